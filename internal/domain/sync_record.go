package domain

// Fingerprints groups the digests of the three artifact sets that define a remote assistant.
type Fingerprints struct {
	Tools      string
	Resources  string
	Definition string
}

// Changed returns the names of the artifact sets whose digest differs from other.
func (f Fingerprints) Changed(other Fingerprints) []string {
	var changed []string
	if f.Tools != other.Tools {
		changed = append(changed, "tools")
	}
	if f.Resources != other.Resources {
		changed = append(changed, "resources")
	}
	if f.Definition != other.Definition {
		changed = append(changed, "assistant")
	}
	return changed
}

// SyncRecord is the persisted result of the last successful assistant synchronization.
type SyncRecord struct {
	AssistantID  string `json:"assistant_id"`
	ToolsSum     string `json:"tools_sum"`
	ResourcesSum string `json:"resources_sum"`
	AssistantSum string `json:"assistant_sum"`
}

// NewSyncRecord builds a record for assistantID from the given fingerprints.
func NewSyncRecord(assistantID string, fp Fingerprints) *SyncRecord {
	return &SyncRecord{
		AssistantID:  assistantID,
		ToolsSum:     fp.Tools,
		ResourcesSum: fp.Resources,
		AssistantSum: fp.Definition,
	}
}

// Valid returns true if every required field is present and non-empty.
func (r *SyncRecord) Valid() bool {
	return r != nil &&
		r.AssistantID != "" &&
		r.ToolsSum != "" &&
		r.ResourcesSum != "" &&
		r.AssistantSum != ""
}

// Fingerprints returns the digests stored in the record.
func (r *SyncRecord) Fingerprints() Fingerprints {
	return Fingerprints{
		Tools:      r.ToolsSum,
		Resources:  r.ResourcesSum,
		Definition: r.AssistantSum,
	}
}

// UpToDate reports whether the record is valid and matches current exactly.
func (r *SyncRecord) UpToDate(current Fingerprints) bool {
	return r.Valid() && len(r.Fingerprints().Changed(current)) == 0
}
