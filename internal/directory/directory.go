package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"poputka/internal/logging"
	"poputka/internal/models"
)

const DefaultNameTTL = 10 * time.Minute

type PartnerSource interface {
	Partners(ctx context.Context, userID string) ([]models.PartnerEntry, error)
}

type ProfileSource interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Config struct {
	Role     models.Role
	Source   PartnerSource
	Profiles ProfileSource // optional
	NameTTL  time.Duration
	Logger   *zap.Logger
}

// Directory holds the conversation partners of the current user. A failed
// load never replaces a list that was loaded before.
type Directory struct {
	role     models.Role
	source   PartnerSource
	profiles ProfileSource
	names    geche.Geche[string, string]
	group    singleflight.Group
	log      *zap.Logger

	partners []models.Partner
	loaded   bool
	mu       sync.RWMutex
}

// New creates a directory. The name cache is cleaned up until ctx is done.
func New(ctx context.Context, config Config) *Directory {
	if config.NameTTL <= 0 {
		config.NameTTL = DefaultNameTTL
	}
	return &Directory{
		role:     config.Role,
		source:   config.Source,
		profiles: config.Profiles,
		names:    geche.NewMapTTLCache[string, string](ctx, config.NameTTL, time.Minute),
		log:      logging.OrNop(config.Logger).With(zap.String("component", "directory")),
	}
}

// Load fetches the partner list of userID and replaces the current list with
// it. Concurrent loads for the same user share one request.
func (d *Directory) Load(ctx context.Context, userID string) ([]models.Partner, error) {
	v, err, _ := d.group.Do(userID, func() (any, error) {
		entries, err := d.source.Partners(ctx, userID)
		if err != nil {
			return nil, err
		}
		return d.build(ctx, userID, entries), nil
	})
	if err != nil {
		d.log.Warn("failed to load partners", zap.String("user_id", userID), zap.Error(err))
		return d.Partners(), fmt.Errorf("load partners: %w", err)
	}

	partners := v.([]models.Partner)

	d.mu.Lock()
	d.partners = partners
	d.loaded = true
	d.mu.Unlock()

	return clonePartners(partners), nil
}

// Partners returns the last successfully loaded list.
func (d *Directory) Partners() []models.Partner {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clonePartners(d.partners)
}

func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

func (d *Directory) build(ctx context.Context, userID string, entries []models.PartnerEntry) []models.Partner {
	seen := make(map[string]bool, len(entries))
	result := make([]models.Partner, 0, len(entries))

	for _, e := range entries {
		id := e.PartnerID.String()
		if id == "" || id == userID || seen[id] {
			continue
		}
		seen[id] = true

		result = append(result, models.Partner{
			ID:                   id,
			DisplayName:          d.displayName(ctx, id, e.Name),
			LatestMessagePreview: e.LatestMessage,
		})
	}
	return result
}

func (d *Directory) displayName(ctx context.Context, id, name string) string {
	if name != "" {
		d.names.Set(id, name)
		return name
	}
	if cached, err := d.names.Get(id); err == nil {
		return cached
	}
	if d.profiles != nil {
		name, err := d.profiles.DisplayName(ctx, id)
		if err == nil && name != "" {
			d.names.Set(id, name)
			return name
		}
		if err != nil {
			d.log.Debug("profile lookup failed", zap.String("partner_id", id), zap.Error(err))
		}
	}
	return fmt.Sprintf("%s %s", d.role.PartnerLabel(), id)
}

func clonePartners(in []models.Partner) []models.Partner {
	if in == nil {
		return nil
	}
	out := make([]models.Partner, len(in))
	copy(out, in)
	return out
}
