package models

import "time"

// EventKind is the type of an audit event.
type EventKind string

const (
	EventGrabbed            EventKind = "grabbed"
	EventLinked             EventKind = "linked"
	EventCleaned            EventKind = "cleaned"
	EventUpdated            EventKind = "updated"
	EventRemovedFromTracker EventKind = "removed_from_tracker"
)

// FieldTag names a metadata field in a diff.
type FieldTag string

const (
	FieldIDs         FieldTag = "ids"
	FieldTitle       FieldTag = "title"
	FieldEdition     FieldTag = "edition"
	FieldAuthors     FieldTag = "authors"
	FieldNarrators   FieldTag = "narrators"
	FieldSeries      FieldTag = "series"
	FieldLanguage    FieldTag = "language"
	FieldMediaType   FieldTag = "media_type"
	FieldMainCat     FieldTag = "main_cat"
	FieldCategories  FieldTag = "categories"
	FieldTags        FieldTag = "tags"
	FieldFlags       FieldTag = "flags"
	FieldFiletypes   FieldTag = "filetypes"
	FieldNumFiles    FieldTag = "num_files"
	FieldSize        FieldTag = "size"
	FieldDescription FieldTag = "description"
	FieldVip         FieldTag = "vip"
	FieldUploadedAt  FieldTag = "uploaded_at"
	FieldSource      FieldTag = "source"
)

// FieldDiff is one changed field with string renderings of both values.
type FieldDiff struct {
	Field FieldTag `json:"field"`
	From  string   `json:"from"`
	To    string   `json:"to"`
}

// Event is an append-only audit record.
type Event struct {
	ID            string    `json:"id"`
	LibraryItemID *string   `json:"libraryItemId,omitempty"`
	MamID         *int64    `json:"mamId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	Kind          EventKind `json:"kind"`

	// Grabbed
	Grabber   string `json:"grabber,omitempty"`
	Cost      Cost   `json:"cost,omitempty"`
	WedgeUsed bool   `json:"wedgeUsed,omitempty"`

	// Linked / Cleaned
	Linker      string   `json:"linker,omitempty"`
	LibraryPath string   `json:"libraryPath,omitempty"`
	Files       []string `json:"files,omitempty"`

	// Updated
	Fields []FieldDiff    `json:"fields,omitempty"`
	Source MetadataSource `json:"source,omitempty"`
}
