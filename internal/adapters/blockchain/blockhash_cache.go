package blockchain

import (
	"context"
	"sync"
	"time"

	pb "github.com/andrew-solarstorm/yellowstone-grpc-client-go/proto"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
	container "github.com/thehyperflames/dicontainer-go"
	"github.com/thehyperflames/yellowstone"

	"github.com/hxuan190/leverage-keeper/internal/config"
	"github.com/hxuan190/leverage-keeper/internal/metrics"
)

const (
	BLOCKHASH_CACHE_SERVICE = "cache-blockhash-svc"

	// blockhashValidity is how many blocks a blockhash stays usable.
	blockhashValidity = 150
	blockhashMaxAge   = 2 * time.Second
)

type CachedBlockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
	Slot                 uint64
	UpdatedAt            time.Time
}

type latestBlockhashFunc func(ctx context.Context) (*CachedBlockhash, error)

// BlockhashCacheService serves the newest blockhash seen on the block-meta
// stream and falls back to RPC when the cached one is older than two seconds.
// Without a stream it degrades to a short-lived RPC cache.
type BlockhashCacheService struct {
	container.BaseDIInstance

	mu      sync.RWMutex
	current *CachedBlockhash
	ySvc    *yellowstone.Service
	fetch   latestBlockhashFunc
	now     func() time.Time
	subID   string
}

func NewBlockhashCache(rpcClient *rpc.Client) *BlockhashCacheService {
	return &BlockhashCacheService{fetch: rpcLatestBlockhash(rpcClient), now: time.Now}
}

func (svc *BlockhashCacheService) ID() string {
	return BLOCKHASH_CACHE_SERVICE
}

func (svc *BlockhashCacheService) Configure(c container.IContainer) error {
	svc.ySvc = c.Instance(yellowstone.YELLOWSTONE_SERVICE).(*yellowstone.Service)
	rpcConfig := c.GetConfig(config.RPC_CONFIG_KEY).(*config.RPCConfig)

	svc.fetch = rpcLatestBlockhash(rpcConfig.NewClient())
	svc.now = time.Now
	return nil
}

func (svc *BlockhashCacheService) Start() error {
	ctx := context.Background()
	if err := svc.refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("[BlockhashCacheService] failed to fetch initial blockhash, will retry on first request")
	}

	if svc.ySvc == nil {
		return nil
	}
	subID, err := svc.ySvc.SubscribeBlockMeta(svc.handleBlockMeta)
	if err != nil {
		log.Error().Err(err).Msg("[BlockhashCacheService] failed to subscribe to block meta")
		return err
	}
	svc.subID = subID
	log.Info().Str("subID", subID).Msg("[BlockhashCacheService] subscribed to block meta for blockhash updates")

	return nil
}

func (svc *BlockhashCacheService) Stop() error {
	if svc.subID != "" && svc.ySvc != nil {
		return svc.ySvc.Unsubscribe(svc.subID)
	}
	return nil
}

func (svc *BlockhashCacheService) refresh(ctx context.Context) error {
	latest, err := svc.fetch(ctx)
	if err != nil {
		return err
	}
	svc.store(latest)

	log.Debug().
		Str("blockhash", latest.Blockhash.String()).
		Uint64("slot", latest.Slot).
		Msg("[BlockhashCacheService] refreshed blockhash from rpc")
	return nil
}

func (svc *BlockhashCacheService) store(latest *CachedBlockhash) {
	svc.mu.Lock()
	svc.current = latest
	svc.mu.Unlock()
}

func (svc *BlockhashCacheService) handleBlockMeta(update *pb.SubscribeUpdate) error {
	blockMeta := update.GetBlockMeta()
	if blockMeta == nil {
		return nil
	}

	blockhashStr := blockMeta.GetBlockhash()
	if blockhashStr == "" {
		return nil
	}

	blockhash, err := solana.HashFromBase58(blockhashStr)
	if err != nil {
		return nil
	}

	blockHeight := uint64(0)
	if bh := blockMeta.GetBlockHeight(); bh != nil {
		blockHeight = bh.GetBlockHeight()
	}
	if blockHeight == 0 {
		return nil
	}

	svc.store(&CachedBlockhash{
		Blockhash:            blockhash,
		LastValidBlockHeight: blockHeight + blockhashValidity,
		Slot:                 blockMeta.GetSlot(),
		UpdatedAt:            svc.now(),
	})
	return nil
}

// GetBlockhash returns a blockhash and the last block height it is valid for.
func (svc *BlockhashCacheService) GetBlockhash(ctx context.Context) (solana.Hash, uint64, error) {
	svc.mu.RLock()
	cached := svc.current
	svc.mu.RUnlock()

	if cached != nil && svc.now().Sub(cached.UpdatedAt) < blockhashMaxAge {
		metrics.BlockhashAge.Set(svc.now().Sub(cached.UpdatedAt).Seconds())
		return cached.Blockhash, cached.LastValidBlockHeight, nil
	}

	if err := svc.refresh(ctx); err != nil {
		if cached != nil {
			log.Warn().Err(err).Msg("[BlockhashCacheService] rpc refresh failed, serving cached blockhash")
			metrics.BlockhashAge.Set(svc.now().Sub(cached.UpdatedAt).Seconds())
			return cached.Blockhash, cached.LastValidBlockHeight, nil
		}
		return solana.Hash{}, 0, err
	}

	svc.mu.RLock()
	latest := svc.current
	svc.mu.RUnlock()
	metrics.BlockhashAge.Set(0)
	return latest.Blockhash, latest.LastValidBlockHeight, nil
}

func rpcLatestBlockhash(client *rpc.Client) latestBlockhashFunc {
	return func(ctx context.Context) (*CachedBlockhash, error) {
		res, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			metrics.RPCRequests.WithLabelValues("getLatestBlockhash", "error").Inc()
			return nil, err
		}
		metrics.RPCRequests.WithLabelValues("getLatestBlockhash", "ok").Inc()
		return &CachedBlockhash{
			Blockhash:            res.Value.Blockhash,
			LastValidBlockHeight: res.Value.LastValidBlockHeight,
			Slot:                 res.Context.Slot,
			UpdatedAt:            time.Now(),
		}, nil
	}
}
