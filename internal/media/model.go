package media

// Media is a catalog entry backed by a YouTube video.
type Media struct {
	MediaID   string `gorm:"column:media_id;primaryKey;size:190;not null"`
	Title     string `gorm:"column:title;size:320;not null"`
	YouTubeID string `gorm:"column:youtube_id;size:64;not null"`
	Locked    bool   `gorm:"column:is_locked;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Media) TableName() string {
	return "media"
}

// Category links a media item to a category.
type Category struct {
	MediaID    string `gorm:"column:media_id;primaryKey;size:190;not null"`
	CategoryID string `gorm:"column:category_id;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Category) TableName() string {
	return "media_categories"
}

// Actor links a media item to an actor.
type Actor struct {
	MediaID string `gorm:"column:media_id;primaryKey;size:190;not null"`
	ActorID string `gorm:"column:actor_id;primaryKey;size:190;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Actor) TableName() string {
	return "media_actors"
}

// Requirement marks RequirementMediaID as a prerequisite of TargetMediaID.
type Requirement struct {
	TargetMediaID      string `gorm:"column:target_media_id;primaryKey;size:190;not null"`
	RequirementMediaID string `gorm:"column:requirement_media_id;primaryKey;size:190;not null;index"`
	Position           int    `gorm:"column:position;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Requirement) TableName() string {
	return "media_requirements"
}

// Tags is the category and actor set of one or more media items.
type Tags struct {
	Categories []string
	Actors     []string
}

// Empty reports whether the set has neither categories nor actors.
func (t Tags) Empty() bool {
	return len(t.Categories) == 0 && len(t.Actors) == 0
}

// Definition describes a media item with its associations for Save.
type Definition struct {
	Media        Media
	Categories   []string
	Actors       []string
	Requirements []string
}

// RequirementTarget is a locked media item that lists a given media as a prerequisite.
type RequirementTarget struct {
	TargetMediaID string
	TotalRequired int
}
