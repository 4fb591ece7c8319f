package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/assistant-bridge/internal/domain"
	"github.com/ashureev/assistant-bridge/internal/fingerprint"
	"github.com/ashureev/assistant-bridge/internal/tools"
)

// Spec is the full payload sent to the remote service when creating or
// updating an assistant.
type Spec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []tools.Schema
	Retrieval    bool
	FileIDs      []string
}

// Remote is the subset of the remote assistant service used for synchronization.
type Remote interface {
	CreateAssistant(ctx context.Context, spec Spec) (string, error)
	UpdateAssistant(ctx context.Context, assistantID string, spec Spec) error
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
}

// Paths locates the local artifacts that define the assistant.
type Paths struct {
	ToolsDir       string
	ResourcesDir   string
	DefinitionPath string
	RecordPath     string
}

// Manager decides whether the remote assistant matches local state and
// creates or updates it accordingly.
type Manager struct {
	remote  Remote
	paths   Paths
	records *RecordStore
	logger  *slog.Logger
}

// NewManager creates a sync manager.
func NewManager(remote Remote, paths Paths, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		remote:  remote,
		paths:   paths,
		records: NewRecordStore(paths.RecordPath),
		logger:  logger,
	}
}

// StatusReport describes the relation between the persisted record and the
// current local artifacts.
type StatusReport struct {
	Record   *domain.SyncRecord
	Current  domain.Fingerprints
	Changed  []string
	UpToDate bool
}

// EnsureAssistant returns the id of a remote assistant matching def and the
// local artifacts, creating or updating it only when something changed.
// The persisted record is replaced only after the remote call succeeded.
func (m *Manager) EnsureAssistant(ctx context.Context, def Definition) (string, error) {
	unlock, err := m.records.Lock(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if unlockErr := unlock(); unlockErr != nil {
			m.logger.Warn("failed to release sync record lock", "error", unlockErr)
		}
	}()

	record := m.loadRecord()

	current, err := m.Fingerprints()
	if err != nil {
		return "", err
	}

	if record.Valid() && record.UpToDate(current) {
		m.logger.Info("Assistant is up-to-date", "assistant_id", record.AssistantID)
		return record.AssistantID, nil
	}

	fileIDs, err := m.uploadResources(ctx)
	if err != nil {
		return "", err
	}
	spec := Spec{
		Name:         def.Name,
		Model:        def.Model,
		Instructions: def.Instructions,
		Tools:        def.Tools,
		Retrieval:    def.RetrievalEnabled(),
		FileIDs:      fileIDs,
	}

	var assistantID string
	if record.Valid() {
		assistantID = record.AssistantID
		m.logger.Info("Changes detected, updating assistant",
			"assistant_id", assistantID,
			"changed", record.Fingerprints().Changed(current),
		)
		if err := m.remote.UpdateAssistant(ctx, assistantID, spec); err != nil {
			return "", fmt.Errorf("update assistant %s: %w: %w", assistantID, domain.ErrRemoteService, err)
		}
	} else {
		m.logger.Info("Creating assistant", "name", spec.Name, "model", spec.Model, "files", len(fileIDs))
		assistantID, err = m.remote.CreateAssistant(ctx, spec)
		if err != nil {
			return "", fmt.Errorf("create assistant: %w: %w", domain.ErrRemoteService, err)
		}
		if assistantID == "" {
			return "", fmt.Errorf("create assistant: %w: empty assistant id", domain.ErrRemoteService)
		}
	}

	if err := m.records.Save(domain.NewSyncRecord(assistantID, current)); err != nil {
		return "", err
	}
	m.logger.Info("Assistant synchronized", "assistant_id", assistantID)
	return assistantID, nil
}

// Status compares the persisted record with the current artifacts without
// contacting the remote service.
func (m *Manager) Status() (*StatusReport, error) {
	record, err := m.records.Load()
	if err != nil && !errors.Is(err, domain.ErrInvalidSyncRecord) {
		return nil, err
	}
	current, err := m.Fingerprints()
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Record: record, Current: current}
	if record.Valid() {
		report.Changed = record.Fingerprints().Changed(current)
		report.UpToDate = len(report.Changed) == 0
	}
	return report, nil
}

// Fingerprints computes the current digests of the tools, resources and
// definition artifacts. The resources directory is optional.
func (m *Manager) Fingerprints() (domain.Fingerprints, error) {
	toolsSum, err := fingerprint.Path(m.paths.ToolsDir)
	if err != nil {
		return domain.Fingerprints{}, fmt.Errorf("fingerprint tools: %w", err)
	}
	resourcesSum, err := fingerprint.PathOrEmpty(m.paths.ResourcesDir)
	if err != nil {
		return domain.Fingerprints{}, fmt.Errorf("fingerprint resources: %w", err)
	}
	definitionSum, err := fingerprint.Path(m.paths.DefinitionPath)
	if err != nil {
		return domain.Fingerprints{}, fmt.Errorf("fingerprint assistant definition: %w", err)
	}
	return domain.Fingerprints{
		Tools:      toolsSum,
		Resources:  resourcesSum,
		Definition: definitionSum,
	}, nil
}

// loadRecord returns the persisted record, or nil when it is absent or unusable.
func (m *Manager) loadRecord() *domain.SyncRecord {
	record, err := m.records.Load()
	if err != nil {
		m.logger.Warn("Ignoring unusable sync record, assistant will be recreated",
			"path", m.records.Path(), "error", err)
		return nil
	}
	return record
}

func (m *Manager) uploadResources(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(m.paths.ResourcesDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat resources dir: %w: %w", domain.ErrIO, err)
	}

	files, err := fingerprint.Files(m.paths.ResourcesDir)
	if err != nil {
		return nil, err
	}

	fileIDs := make([]string, 0, len(files))
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(m.paths.ResourcesDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("read resource %s: %w: %w", rel, domain.ErrIO, err)
		}
		id, err := m.remote.UploadFile(ctx, filepath.Base(rel), data)
		if err != nil {
			return nil, fmt.Errorf("upload resource %s: %w: %w", rel, domain.ErrRemoteService, err)
		}
		m.logger.Debug("Uploaded resource", "file", rel, "file_id", id)
		fileIDs = append(fileIDs, id)
	}
	return fileIDs, nil
}
