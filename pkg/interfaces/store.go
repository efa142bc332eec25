package interfaces

import "github.com/qingrongy/logtmpl/pkg/types"

// TemplateStore persists one library per classified log source: its
// templates, head pattern, and matched-sample ring buffer (spec §4.2).
// Mutations on a single library are serialized by the implementation.
type TemplateStore interface {
	// ListLibraries enumerates all known library ids.
	ListLibraries() ([]string, error)

	// LoadLibrary returns a single consistent snapshot: templates ordered
	// by creation time, at most N_max_samples matched samples, the current
	// head pattern (nil if none derived yet), and the next-id counter.
	LoadLibrary(id string) (*types.LibraryView, error)

	// SaveTemplate upserts by T.ID. If T.ID is empty, one is assigned as
	// "<library>#<next_template_number>" and the counter is incremented
	// atomically; the assigned record is returned.
	SaveTemplate(libraryID string, t types.TemplateRecord) (types.TemplateRecord, error)

	// DeleteTemplate removes a template by id and its owned matched
	// samples.
	DeleteTemplate(libraryID, templateID string) error

	// RecordMatches appends matched samples to a library's ring buffer,
	// evicting the oldest entries once N_max_samples is exceeded (FIFO).
	RecordMatches(libraryID string, records []types.MatchedSample) error

	// SaveHeadPattern overwrites the library's head pattern.
	SaveHeadPattern(libraryID string, head types.HeadPattern) error
}
