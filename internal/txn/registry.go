package txn

import (
	"sync"

	"github.com/gagliardetto/solana-go"
)

// ErrorDefinition names one custom program error code.
type ErrorDefinition struct {
	Name      string `yaml:"name" json:"name"`
	Ignorable bool   `yaml:"ignorable" json:"ignorable"`
}

// ErrorRegistry maps (program, code) to a readable name and decides whether
// the failure is ignorable. It is loaded from configuration so new codes can
// be added without a release.
type ErrorRegistry struct {
	mu       sync.RWMutex
	programs map[solana.PublicKey]map[uint32]ErrorDefinition
	labels   map[solana.PublicKey]string
}

func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{
		programs: make(map[solana.PublicKey]map[uint32]ErrorDefinition),
		labels:   make(map[solana.PublicKey]string),
	}
}

// Register adds or replaces the definitions of one program.
func (r *ErrorRegistry) Register(program solana.PublicKey, label string, codes map[uint32]ErrorDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs, ok := r.programs[program]
	if !ok {
		defs = make(map[uint32]ErrorDefinition, len(codes))
		r.programs[program] = defs
	}
	for code, def := range codes {
		defs[code] = def
	}
	if label != "" {
		r.labels[program] = label
	}
}

func (r *ErrorRegistry) Lookup(program solana.PublicKey, code uint32) (ErrorDefinition, bool) {
	if r == nil {
		return ErrorDefinition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.programs[program][code]
	return def, ok
}

func (r *ErrorRegistry) Label(program solana.PublicKey) string {
	if r == nil {
		return program.String()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if label, ok := r.labels[program]; ok {
		return label
	}
	return program.String()
}

// Decode builds the ProgramError for a failed instruction.
func (r *ErrorRegistry) Decode(program solana.PublicKey, instructionIndex int, code uint32, logs []string) *ProgramError {
	pe := &ProgramError{
		ProgramID:        program,
		InstructionIndex: instructionIndex,
		Code:             code,
		Logs:             logs,
	}
	if def, ok := r.Lookup(program, code); ok {
		pe.Name = r.Label(program) + "::" + def.Name
		pe.Ignorable = def.Ignorable
	}
	return pe
}
