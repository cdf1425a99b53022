// Package media is the media metadata provider: catalog entries, their
// category and actor tags, and their unlock requirements.
package media

import (
	"context"
	"errors"
	"sort"

	"github.com/MarcoPoloResearchLab/streamquest/internal/domain"
	"github.com/MarcoPoloResearchLab/streamquest/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCatalogNew          = "media.catalog.new"
	opSave                = "media.save"
	opGet                 = "media.get"
	opTags                = "media.tags"
	opRequirements        = "media.requirements"
	opRequirementTargets  = "media.requirement_targets"
	fieldMediaID          = "media_id"
	queryMediaID          = fieldMediaID + " = ?"
	queryMediaIDIn        = fieldMediaID + " IN ?"
	queryTargetMediaID    = "target_media_id = ?"
	queryRequirementMedia = "requirement_media_id = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrMediaNotFound indicates the catalog has no entry for the identifier.
	ErrMediaNotFound = errors.New("media: not found")
)

// CatalogConfig describes the catalog dependencies.
type CatalogConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Catalog reads and writes media metadata.
type Catalog struct {
	db       *gorm.DB
	reporter serviceerr.Reporter
}

// NewCatalog constructs the catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opCatalogNew, "missing_database", errMissingDatabase)
	}
	return &Catalog{
		db:       cfg.Database,
		reporter: serviceerr.NewReporter(cfg.Logger, "media catalog error"),
	}, nil
}

// Save upserts a media item and replaces its categories, actors, and requirements.
func (c *Catalog) Save(ctx context.Context, definition Definition) error {
	mediaID, err := domain.NewMediaID(definition.Media.MediaID)
	if err != nil {
		return serviceerr.New(opSave, "invalid_media_id", err)
	}
	item := definition.Media
	item.MediaID = mediaID.String()

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&item).Error; err != nil {
			return c.reporter.Fail(opSave, "media_upsert_failed", err, zap.String(fieldMediaID, item.MediaID))
		}
		if err := tx.Where(queryMediaID, item.MediaID).Delete(&Category{}).Error; err != nil {
			return c.reporter.Fail(opSave, "categories_reset_failed", err, zap.String(fieldMediaID, item.MediaID))
		}
		if err := tx.Where(queryMediaID, item.MediaID).Delete(&Actor{}).Error; err != nil {
			return c.reporter.Fail(opSave, "actors_reset_failed", err, zap.String(fieldMediaID, item.MediaID))
		}
		if err := tx.Where(queryTargetMediaID, item.MediaID).Delete(&Requirement{}).Error; err != nil {
			return c.reporter.Fail(opSave, "requirements_reset_failed", err, zap.String(fieldMediaID, item.MediaID))
		}

		for _, categoryID := range dedupe(definition.Categories) {
			if err := tx.Create(&Category{MediaID: item.MediaID, CategoryID: categoryID}).Error; err != nil {
				return c.reporter.Fail(opSave, "category_insert_failed", err, zap.String(fieldMediaID, item.MediaID))
			}
		}
		for _, actorID := range dedupe(definition.Actors) {
			if err := tx.Create(&Actor{MediaID: item.MediaID, ActorID: actorID}).Error; err != nil {
				return c.reporter.Fail(opSave, "actor_insert_failed", err, zap.String(fieldMediaID, item.MediaID))
			}
		}
		for position, requirementID := range dedupe(definition.Requirements) {
			if err := tx.Create(&Requirement{
				TargetMediaID:      item.MediaID,
				RequirementMediaID: requirementID,
				Position:           position,
			}).Error; err != nil {
				return c.reporter.Fail(opSave, "requirement_insert_failed", err, zap.String(fieldMediaID, item.MediaID))
			}
		}
		return nil
	})
}

// Get returns the catalog entry or ErrMediaNotFound.
func (c *Catalog) Get(ctx context.Context, mediaID domain.MediaID) (Media, error) {
	var item Media
	err := c.db.WithContext(ctx).Where(queryMediaID, mediaID.String()).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Media{}, ErrMediaNotFound
	}
	if err != nil {
		return Media{}, c.reporter.Fail(opGet, "query_failed", err, zap.String(fieldMediaID, mediaID.String()))
	}
	return item, nil
}

// Tags returns the categories and actors of one media item.
func (c *Catalog) Tags(ctx context.Context, mediaID domain.MediaID) (Tags, error) {
	return c.TagsFor(ctx, []domain.MediaID{mediaID})
}

// TagsFor returns the union of categories and actors across the media items.
func (c *Catalog) TagsFor(ctx context.Context, mediaIDs []domain.MediaID) (Tags, error) {
	if len(mediaIDs) == 0 {
		return Tags{}, nil
	}
	rawIDs := domain.MediaIDStrings(mediaIDs)

	var categories []Category
	if err := c.db.WithContext(ctx).Where(queryMediaIDIn, rawIDs).Find(&categories).Error; err != nil {
		return Tags{}, c.reporter.Fail(opTags, "categories_query_failed", err)
	}
	var actors []Actor
	if err := c.db.WithContext(ctx).Where(queryMediaIDIn, rawIDs).Find(&actors).Error; err != nil {
		return Tags{}, c.reporter.Fail(opTags, "actors_query_failed", err)
	}

	tags := Tags{}
	for _, category := range categories {
		tags.Categories = append(tags.Categories, category.CategoryID)
	}
	for _, actor := range actors {
		tags.Actors = append(tags.Actors, actor.ActorID)
	}
	tags.Categories = sortedUnique(tags.Categories)
	tags.Actors = sortedUnique(tags.Actors)
	return tags, nil
}

// Requirements returns the prerequisite media of the target in curated order.
func (c *Catalog) Requirements(ctx context.Context, targetMediaID domain.MediaID) ([]domain.MediaID, error) {
	var rows []Requirement
	if err := c.db.WithContext(ctx).
		Where(queryTargetMediaID, targetMediaID.String()).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, c.reporter.Fail(opRequirements, "query_failed", err, zap.String(fieldMediaID, targetMediaID.String()))
	}
	ids := make([]domain.MediaID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, domain.MediaID(row.RequirementMediaID))
	}
	return ids, nil
}

// RequirementTargets returns every target that lists the media as a prerequisite,
// together with the target's total requirement count.
func (c *Catalog) RequirementTargets(ctx context.Context, requirementMediaID domain.MediaID) ([]RequirementTarget, error) {
	var rows []Requirement
	if err := c.db.WithContext(ctx).
		Where(queryRequirementMedia, requirementMediaID.String()).
		Order("target_media_id ASC").
		Find(&rows).Error; err != nil {
		return nil, c.reporter.Fail(opRequirementTargets, "query_failed", err, zap.String(fieldMediaID, requirementMediaID.String()))
	}
	targets := make([]RequirementTarget, 0, len(rows))
	for _, row := range rows {
		var total int64
		if err := c.db.WithContext(ctx).
			Model(&Requirement{}).
			Where(queryTargetMediaID, row.TargetMediaID).
			Count(&total).Error; err != nil {
			return nil, c.reporter.Fail(opRequirementTargets, "count_failed", err, zap.String(fieldMediaID, row.TargetMediaID))
		}
		targets = append(targets, RequirementTarget{
			TargetMediaID: row.TargetMediaID,
			TotalRequired: int(total),
		})
	}
	return targets, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func sortedUnique(values []string) []string {
	unique := dedupe(values)
	sort.Strings(unique)
	if len(unique) == 0 {
		return nil
	}
	return unique
}
