package cache

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/snel-bot/resilience/pkg/serialization"
)

// persister handles snapshot I/O for the in-memory backend. Disk failures
// are logged and absorbed: the cache keeps operating in memory. The
// encoder pair decides the on-disk format.
type persister struct {
	path   string
	logger *zap.Logger
	encode serialization.EncoderFunc
	decode serialization.DecoderFunc
}

func (p *persister) enabled() bool {
	return p.path != ""
}

// load hydrates the entry table from disk, dropping entries whose TTL has
// already elapsed. A missing, unreadable or corrupt snapshot returns nil
// and the cache starts empty.
func (p *persister) load() map[string]*Entry {
	if !p.enabled() {
		return nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to open cache snapshot", zap.String("path", p.path), zap.Error(err))
		}
		return nil
	}
	defer f.Close()

	var snapshot map[string]*Entry
	if err := p.decode(f).Decode(&snapshot); err != nil {
		p.logger.Warn("failed to decode cache snapshot, starting empty",
			zap.String("path", p.path), zap.Error(err))
		return nil
	}

	valid := make(map[string]*Entry, len(snapshot))
	for key, entry := range snapshot {
		if !entry.IsExpired() {
			valid[key] = entry
		}
	}

	p.logger.Info("loaded cache snapshot",
		zap.String("path", p.path),
		zap.Int("entries", len(valid)),
		zap.Int("expired", len(snapshot)-len(valid)))

	return valid
}

// save writes the entry table to disk via a temporary file so a crash
// mid-write never leaves a truncated snapshot behind.
func (p *persister) save(entries map[string]*Entry) {
	if !p.enabled() {
		return
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Warn("failed to create cache snapshot directory", zap.Error(err))
		return
	}

	tmp := p.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		p.logger.Warn("failed to create cache snapshot", zap.Error(err))
		return
	}

	if err := p.encode(f).Encode(entries); err != nil {
		f.Close()
		os.Remove(tmp)
		p.logger.Warn("failed to encode cache snapshot", zap.Error(err))
		return
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		p.logger.Warn("failed to close cache snapshot", zap.Error(err))
		return
	}

	if err := os.Rename(tmp, p.path); err != nil {
		p.logger.Warn("failed to replace cache snapshot", zap.Error(err))
		return
	}

	p.logger.Debug("saved cache snapshot", zap.String("path", p.path), zap.Int("entries", len(entries)))
}
