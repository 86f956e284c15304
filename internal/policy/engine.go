package policy

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store хранит активный снимок политики
type Store struct {
	mu      sync.RWMutex
	policy  Policy
	path    string
	profile string
}

// NewStore создает хранилище с начальным снимком
func NewStore(p Policy) *Store {
	return &Store{policy: p.Clone()}
}

// NewStoreFromFile загружает профиль из YAML
func NewStoreFromFile(path, profile string) (*Store, error) {
	p, err := loadPolicy(path, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	s := NewStore(p)
	s.path = path
	s.profile = p.ProfileName
	return s, nil
}

// Current возвращает копию активного снимка
func (s *Store) Current() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.Clone()
}

// Replace атомарно подменяет снимок
func (s *Store) Replace(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.policy = p.Clone()
	s.mu.Unlock()
	return nil
}

// Reload перечитывает файл, из которого был создан Store
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("policy store has no backing file")
	}
	p, err := loadPolicy(s.path, s.profile)
	if err != nil {
		return err
	}
	return s.Replace(p)
}

// Path путь к файлу политики
func (s *Store) Path() string {
	return s.path
}

// loadPolicy загружает профиль из YAML. Пустые поля берутся из Default().
func loadPolicy(path, profile string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	var config struct {
		Profiles map[string]yaml.Node `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Policy{}, err
	}

	if profile == "" {
		profile = "default"
	}

	node, ok := config.Profiles[profile]
	if !ok {
		return Policy{}, fmt.Errorf("policy profile %s not found", profile)
	}

	p := Default()
	// списки из файла заменяют дефолтные целиком
	p.Ladder = nil
	p.FollowUpLegs = nil
	if err := node.Decode(&p); err != nil {
		return Policy{}, fmt.Errorf("decode profile %s: %w", profile, err)
	}
	if p.Ladder == nil {
		p.Ladder = Default().Ladder
	}
	if p.FollowUpLegs == nil {
		p.FollowUpLegs = Default().FollowUpLegs
	}
	p.ProfileName = profile

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate проверяет согласованность профиля
func (p Policy) Validate() error {
	if p.DefaultStopLossPercent <= 0 || p.DefaultStopLossPercent >= 100 {
		return fmt.Errorf("default_stop_loss_percent must be in (0, 100)")
	}
	if p.SignalTPSharePercent <= 0 || p.SignalTPSharePercent > 100 {
		return fmt.Errorf("signal_tp_share_percent must be in (0, 100]")
	}
	for i, step := range p.Ladder {
		if step.ProfitPercent <= 0 || step.PortionPercent <= 0 {
			return fmt.Errorf("take_profit_ladder[%d]: percents must be positive", i)
		}
	}
	if p.TrailingEnabled && p.TrailingStopPercent <= 0 {
		return fmt.Errorf("trailing_stop_percent must be positive when trailing is enabled")
	}
	if p.ProtectiveStopPercent <= 0 || p.ProtectiveStopPercent >= 100 {
		return fmt.Errorf("protective_stop_percent must be in (0, 100)")
	}
	switch p.EntryOrderType {
	case "market", "limit":
	default:
		return fmt.Errorf("entry_order_type must be market or limit, got %q", p.EntryOrderType)
	}
	for _, v := range []float64{p.FirstTargetClosePercent, p.SecondTargetClosePercent, p.DefaultTargetClosePercent} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("partial close percents must be in (0, 100]")
		}
	}
	return nil
}
