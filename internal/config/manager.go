package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "remindbot/pkg/logx"
)

// Validator vets a parsed config before it is committed. Returning an
// error keeps the previous config active.
type Validator func(*Config) error

// Manager loads the config file, keeps the current snapshot, and can
// watch the file for changes. Subscribers receive each committed config.
type Manager struct {
	path     string
	log      logx.Logger
	validate Validator

	mu       sync.RWMutex
	current  *Config
	lastHash [32]byte
	subs     map[int]chan *Config
	nextSub  int
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		path: path,
		log:  log,
		subs: make(map[int]chan *Config),
	}
}

// SetValidator must be called before Load or Watch.
func (m *Manager) SetValidator(v Validator) { m.validate = v }

// Get returns the current snapshot, nil before the first Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Load reads, parses and commits the config file.
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(m.path, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.path, err)
	}
	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			return nil, fmt.Errorf("validate %s: %w", m.path, err)
		}
	}
	m.commit(cfg, sha256.Sum256(data))
	return cfg, nil
}

func (m *Manager) commit(cfg *Config, hash [32]byte) {
	m.mu.Lock()
	m.current = cfg
	m.lastHash = hash
	chans := make([]chan *Config, 0, len(m.subs))
	for _, ch := range m.subs {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		// Drop the stale snapshot if the subscriber is behind.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

// Subscribe registers for committed configs. The channel holds one
// pending snapshot; a slow subscriber only ever sees the latest.
func (m *Manager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	return ch, cancel
}

// Watch reloads the config when the file changes, until ctx is done.
// Events are debounced; editors that replace the file (rename + create)
// are handled by re-adding the parent directory watch. A reload that
// fails to parse or validate is logged and the previous config stays.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	var pending *time.Timer
	var pendingC <-chan time.Time
	target := filepath.Clean(m.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					select {
					case <-pending.C:
					default:
					}
				}
				pending.Reset(debounce)
			}

		case <-pendingC:
			pending = nil
			pendingC = nil
			m.reload()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("config watcher error", logx.Err(err))
		}
	}
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		// Likely mid-rename; retry once after a short jittered pause.
		time.Sleep(50*time.Millisecond + time.Duration(rand.Intn(50))*time.Millisecond)
		if data, err = os.ReadFile(m.path); err != nil {
			m.log.Warn("config reload read", logx.Err(err))
			return
		}
	}

	hash := sha256.Sum256(data)
	m.mu.RLock()
	same := hash == m.lastHash
	m.mu.RUnlock()
	if same {
		return
	}

	cfg, err := decodeStrict(m.path, data)
	if err != nil {
		m.log.Warn("config reload rejected", logx.Err(err))
		return
	}
	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			m.log.Warn("config reload rejected", logx.Err(err))
			return
		}
	}
	m.commit(cfg, hash)
	m.log.Info("config reloaded", logx.String("path", m.path))
}
