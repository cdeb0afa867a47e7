package telegram

import "fmt"

// Account pairs a running channel with its account id and config.
type Account struct {
	ID      string
	Channel *TelegramChannel
	Config  AccountConfig
}

// AccountConfig mirrors the mention-gating and allowlist knobs a
// single bot account needs; it is the channel package's own view of
// config.TelegramAccountConfig, kept decoupled from the config package.
type AccountConfig struct {
	AllowedIDs             map[int64]struct{}
	BotUsername            string
	RequireMentionInGroups bool
}

// Registry manages one or more named Telegram bot accounts. Single-bot
// deployments use the implicit "default" account; multi-bot
// deployments register additional named accounts.
type Registry struct {
	accounts  map[string]*Account
	defaultID string
}

// NewRegistry returns an empty registry with the given default account id.
func NewRegistry(defaultID string) *Registry {
	if defaultID == "" {
		defaultID = "default"
	}
	return &Registry{
		accounts:  make(map[string]*Account),
		defaultID: defaultID,
	}
}

// Add registers an account. Re-adding an existing id overwrites it.
func (r *Registry) Add(id string, channel *TelegramChannel, cfg AccountConfig) {
	r.accounts[id] = &Account{ID: id, Channel: channel, Config: cfg}
}

// Get looks up an account by id.
func (r *Registry) Get(id string) (*Account, bool) {
	a, ok := r.accounts[id]
	return a, ok
}

// Default returns the registry's default account.
func (r *Registry) Default() (*Account, bool) {
	return r.Get(r.defaultID)
}

// DefaultID returns the configured default account id.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// IsEmpty reports whether no accounts are registered.
func (r *Registry) IsEmpty() bool {
	return len(r.accounts) == 0
}

// All returns every registered account.
func (r *Registry) All() []*Account {
	out := make([]*Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a)
	}
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("telegram.Registry{accounts=%d, default=%s}", len(r.accounts), r.defaultID)
}
