// Package backend opens the event source named by a configuration target.
package backend

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/wilhg/changeverify/internal/config"
	"github.com/wilhg/changeverify/pkg/errmodel"
	"github.com/wilhg/changeverify/pkg/store"
	"github.com/wilhg/changeverify/pkg/store/entstore"
	"github.com/wilhg/changeverify/pkg/store/memstore"
	"github.com/wilhg/changeverify/pkg/store/mongostore"
)

// Kind names the adapter a target resolves to.
type Kind string

const (
	KindMemory Kind = "memory"
	KindSQL    Kind = "sql"
	KindMongo  Kind = "mongodb"
)

// ConnectTimeout bounds connecting to and pinging a remote source.
var ConnectTimeout = 10 * time.Second

// KindOf classifies target by its scheme. Anything that is neither memory
// nor MongoDB is handed to the SQL adapter, which rejects what it cannot open.
func KindOf(target string) Kind {
	lower := strings.ToLower(strings.TrimSpace(target))
	switch {
	case strings.HasPrefix(lower, "memory:"):
		return KindMemory
	case strings.HasPrefix(lower, "mongodb://"), strings.HasPrefix(lower, "mongodb+srv://"):
		return KindMongo
	default:
		return KindSQL
	}
}

// Open returns a ready source for cfg.Target. SQL schemas are migrated.
// Any failure is a setup error with code unreachable.
func Open(ctx context.Context, cfg config.Config) (store.Source, error) {
	kind := KindOf(cfg.Target)
	if kind == KindMemory {
		return memstore.New(memstore.WithRetention(cfg.Retention)), nil
	}

	cctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	var (
		src store.Source
		err error
	)
	switch kind {
	case KindMongo:
		src, err = mongostore.Open(cctx, cfg.Target, cfg.Database, cfg.Collection)
	default:
		var st *entstore.Store
		st, err = entstore.Open(cctx, cfg.Target,
			entstore.WithStream(cfg.Collection),
			entstore.WithRetention(cfg.Retention),
		)
		if err == nil {
			if err = st.Migrate(cctx); err != nil {
				_ = st.Close()
			} else {
				src = st
			}
		}
	}
	if err != nil {
		return nil, errmodel.Setup(errmodel.CodeUnreachable, "cannot open event source", map[string]any{
			"kind":   string(kind),
			"target": Redact(cfg.Target),
		}, err)
	}
	return src, nil
}

// Redact hides the password of URL-style targets.
func Redact(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.User == nil {
		return target
	}
	return u.Redacted()
}
