package peers

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Consensus is the process-wide anonymization key and the moment it became
// effective. The zero value means no key has been chosen yet.
type Consensus struct {
	Key   [16]byte
	Start time.Time
}

func (c Consensus) IsSet() bool {
	return !c.Start.IsZero()
}

// NewKey returns a fresh random key.
func NewKey() [16]byte {
	return [16]byte(uuid.New())
}

// Arbitrate decides whether a candidate key replaces cur. The candidate
// wins when no key is set, or when it started strictly earlier and differs.
// The oldest key therefore wins everywhere without an election, and
// applying the same candidate twice changes nothing.
func Arbitrate(cur Consensus, key [16]byte, start time.Time) (Consensus, bool) {
	if !cur.IsSet() || (start.Before(cur.Start) && key != cur.Key) {
		return Consensus{Key: key, Start: start}, true
	}
	return cur, false
}

// StartFromUptime converts a sender's uptime into the start time it implies.
func StartFromUptime(now time.Time, uptime time.Duration) time.Time {
	return now.Add(-uptime)
}

type consensusFile struct {
	Key   string    `yaml:"key"`
	Start time.Time `yaml:"start"`
}

// LoadConsensus reads a persisted key. A missing file yields the zero value.
func LoadConsensus(path string) (Consensus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Consensus{}, nil
		}
		return Consensus{}, err
	}

	var f consensusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Consensus{}, err
	}
	raw, err := hex.DecodeString(f.Key)
	if err != nil {
		return Consensus{}, fmt.Errorf("consensus key: %w", err)
	}
	if len(raw) != 16 {
		return Consensus{}, fmt.Errorf("consensus key: want 16 bytes, got %d", len(raw))
	}
	var c Consensus
	copy(c.Key[:], raw)
	c.Start = f.Start
	return c, nil
}

// SaveConsensus persists c so a restarted process keeps its key.
func SaveConsensus(path string, c Consensus) error {
	data, err := yaml.Marshal(consensusFile{Key: hex.EncodeToString(c.Key[:]), Start: c.Start.UTC()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
