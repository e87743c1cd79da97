package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"storybooth/log"
	"storybooth/media"
)

const grantsFile = "grants.json"

// Grants remembers which device kinds the user has already allowed. Device
// labels are only exposed for granted kinds, so a second session skips the
// permission step.
type Grants struct {
	dir string

	mu    sync.Mutex
	kinds map[media.Kind]time.Time
}

type grantsRecord struct {
	Kinds map[media.Kind]int64 `json:"kinds"`
}

// LoadGrants reads the store from dir. A missing or corrupt file yields an
// empty store. An empty dir keeps grants in memory only.
func LoadGrants(dir string) *Grants {
	g := &Grants{dir: dir, kinds: map[media.Kind]time.Time{}}
	if dir == "" {
		return g
	}
	data, err := os.ReadFile(filepath.Join(dir, grantsFile))
	if err != nil {
		return g
	}
	var rec grantsRecord
	if json.Unmarshal(data, &rec) != nil {
		log.Warnf("ignoring unreadable %s", grantsFile)
		return g
	}
	for k, at := range rec.Kinds {
		g.kinds[k] = time.Unix(at, 0)
	}
	return g
}

func (g *Grants) Granted(k media.Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.kinds[k]
	return ok
}

func (g *Grants) Grant(kinds ...media.Kind) {
	g.mu.Lock()
	changed := false
	for _, k := range kinds {
		if _, ok := g.kinds[k]; !ok {
			g.kinds[k] = time.Now()
			changed = true
		}
	}
	g.mu.Unlock()
	if changed {
		g.save()
	}
}

// Revoke forgets every grant.
func (g *Grants) Revoke() {
	g.mu.Lock()
	g.kinds = map[media.Kind]time.Time{}
	g.mu.Unlock()
	g.save()
}

func (g *Grants) save() {
	if g.dir == "" {
		return
	}
	g.mu.Lock()
	rec := grantsRecord{Kinds: make(map[media.Kind]int64, len(g.kinds))}
	for k, at := range g.kinds {
		rec.Kinds[k] = at.Unix()
	}
	g.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = os.MkdirAll(g.dir, 0755)
	if err := os.WriteFile(filepath.Join(g.dir, grantsFile), data, 0644); err != nil {
		log.Warnf("save grants: %v", err)
	}
}
