package config

import (
	"errors"
	"os"
	"time"

	"github.com/andrew-solarstorm/go-packages/common"
	"github.com/gagliardetto/solana-go/rpc"
)

type RPCConfig struct {
	RPCUrl    string
	WSUrl     string
	RPCApiKey string

	// KeeperKey is a base58 private key or the path of a keypair file.
	KeeperKey string

	RateLimit    int
	RateBurst    int
	PollInterval time.Duration
}

func (r *RPCConfig) Key() string {
	return RPC_CONFIG_KEY
}

func (r *RPCConfig) Load() error {
	r.RPCUrl = os.Getenv("RPC_URL")
	r.WSUrl = os.Getenv("WS_URL")
	r.RPCApiKey = os.Getenv("RPC_KEY")
	r.KeeperKey = os.Getenv("KEEPER_KEY")
	r.RateLimit = common.GetEnvOrDefaultInt("RPC_RATE_LIMIT", 20)
	r.RateBurst = common.GetEnvOrDefaultInt("RPC_RATE_BURST", 40)
	r.PollInterval = time.Duration(common.GetEnvOrDefaultInt("RPC_POLL_INTERVAL_MS", 500)) * time.Millisecond
	return nil
}

func (r *RPCConfig) Validate() error {
	if r.RPCUrl == "" || r.KeeperKey == "" {
		return errors.New("invalid rpc config")
	}
	if r.RateLimit <= 0 || r.RateBurst <= 0 || r.PollInterval <= 0 {
		return errors.New("invalid rpc rate limit")
	}
	return nil
}

// NewClient builds an RPC client, passing the API key as a header when set.
func (r *RPCConfig) NewClient() *rpc.Client {
	if r.RPCApiKey == "" {
		return rpc.New(r.RPCUrl)
	}
	return rpc.NewWithHeaders(r.RPCUrl, map[string]string{"x-api-key": r.RPCApiKey})
}
