package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/providers"
	"github.com/zatekoja/procedurecopilot/backend/internal/domain/repositories"
	"github.com/zatekoja/procedurecopilot/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/procedurecopilot/backend/pkg/errors"
)

// Bundle entry names, in archive order.
const (
	entryFrameAnalysis = "frame_analysis.json"
	entrySummary       = "summary.txt"
	entryFindingsCSV   = "findings.csv"
	entryTranscript    = "transcript.json"
	entryMetadata      = "metadata.json"
)

// ExportLink is a time-limited download reference to a session's bundle.
type ExportLink struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BundleData is everything that goes into an export bundle.
type BundleData struct {
	Session     *entities.ProcedureSession
	Frames      []*entities.Frame
	Analyses    []*entities.AnalysisResult
	Summary     *entities.SessionSummary
	Messages    []*entities.ConversationMessage
	GeneratedAt time.Time
	// Source streams the original media; nil when the session has none.
	Source io.Reader
}

type frameAnalysisEntry struct {
	FrameIndex       int      `json:"frame_index"`
	Timestamp        string   `json:"timestamp"`
	TimestampMS      int64    `json:"timestamp_ms"`
	Analysis         *string  `json:"analysis,omitempty"`
	Location         *string  `json:"location,omitempty"`
	RiskLevel        *string  `json:"risk_level,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	DetectedFeatures []string `json:"detected_features,omitempty"`
}

type transcriptEntry struct {
	Role             entities.MessageRole `json:"role"`
	Content          string               `json:"content"`
	CreatedAt        string               `json:"created_at"`
	VideoTimestampMS *int64               `json:"video_timestamp_ms"`
}

type bundleMetadata struct {
	SessionID         string               `json:"session_id"`
	Title             string               `json:"title"`
	ProcedureType     string               `json:"procedure_type"`
	SessionKind       entities.SessionKind `json:"session_kind"`
	CreatedAt         string               `json:"created_at"`
	DurationSeconds   float64              `json:"duration_seconds"`
	TotalFrames       int                  `json:"total_frames"`
	FramesAnalyzed    int                  `json:"frames_analyzed"`
	ExportGeneratedAt string               `json:"export_generated_at"`
}

// ExportService assembles and publishes session export bundles
type ExportService struct {
	sessions      repositories.SessionRepository
	frames        repositories.FrameRepository
	analyses      repositories.AnalysisRepository
	summaries     repositories.SummaryRepository
	conversations repositories.ConversationRepository
	store         providers.ObjectStore
	downloadTTL   time.Duration
	Now           func() time.Time
}

// NewExportService creates a new export service
func NewExportService(
	sessions repositories.SessionRepository,
	frames repositories.FrameRepository,
	analyses repositories.AnalysisRepository,
	summaries repositories.SummaryRepository,
	conversations repositories.ConversationRepository,
	store providers.ObjectStore,
	downloadTTL time.Duration,
) *ExportService {
	if downloadTTL <= 0 {
		downloadTTL = time.Hour
	}
	return &ExportService{
		sessions:      sessions,
		frames:        frames,
		analyses:      analyses,
		summaries:     summaries,
		conversations: conversations,
		store:         store,
		downloadTTL:   downloadTTL,
		Now:           time.Now,
	}
}

// BundleName is the archive file name for a session export.
func BundleName(sessionID string, at time.Time) string {
	return fmt.Sprintf("procedure_export_%s_%s.zip", sessionID, at.UTC().Format("20060102_150405"))
}

// BuildBundle assembles the bundle, stores it and records its key on the
// session. progress receives stage-local percentages.
func (s *ExportService) BuildBundle(ctx context.Context, sessionID string, progress func(percent int)) (string, error) {
	if progress == nil {
		progress = func(int) {}
	}

	data, closeSource, err := s.load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	defer closeSource()
	progress(25)

	var buf bytes.Buffer
	if err := WriteBundle(&buf, data); err != nil {
		return "", apperrors.NewInternalError("failed to write export bundle", err)
	}
	progress(75)

	key := path.Join("sessions", sessionID, "exports", BundleName(sessionID, data.GeneratedAt))
	if err := s.store.Put(ctx, key, &buf); err != nil {
		return "", err
	}

	data.Session.ExportKey = key
	if err := s.sessions.Update(ctx, data.Session); err != nil {
		return "", err
	}
	progress(100)

	observability.LoggerFromContext(ctx).Info().
		Str("session_id", sessionID).
		Str("key", key).
		Msg("export bundle stored")
	return key, nil
}

// DownloadLink returns a time-limited reference to the session's bundle,
// building the bundle first when the session has none.
func (s *ExportService) DownloadLink(ctx context.Context, sessionID string) (*ExportLink, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	key := session.ExportKey
	if key == "" {
		if session.Status != entities.SessionStatusCompleted {
			return nil, apperrors.NewConflictError(fmt.Sprintf("session %s has no export yet (status %s)", sessionID, session.Status))
		}
		if key, err = s.BuildBundle(ctx, sessionID, nil); err != nil {
			return nil, err
		}
	}

	url, expires, err := s.store.DownloadURL(ctx, key, s.downloadTTL)
	if err != nil {
		return nil, err
	}
	return &ExportLink{SessionID: sessionID, Key: key, URL: url, ExpiresAt: expires}, nil
}

func (s *ExportService) load(ctx context.Context, sessionID string) (*BundleData, func(), error) {
	noop := func() {}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, noop, err
	}
	frames, err := s.frames.ListBySession(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, noop, err
	}
	analyses, err := s.analyses.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, noop, err
	}
	summary, err := s.summaries.GetBySession(ctx, sessionID)
	if err != nil && !apperrors.IsNotFound(err) {
		return nil, noop, err
	}
	messages, err := s.conversations.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, noop, err
	}

	data := &BundleData{
		Session:     session,
		Frames:      frames,
		Analyses:    analyses,
		Summary:     summary,
		Messages:    messages,
		GeneratedAt: s.Now().UTC(),
	}

	if session.SourceKey == "" {
		return data, noop, nil
	}
	rc, err := s.store.Get(ctx, session.SourceKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			observability.LoggerFromContext(ctx).Warn().Str("session_id", sessionID).Msg("original media missing from store; exporting without it")
			return data, noop, nil
		}
		return nil, noop, err
	}
	data.Source = rc
	return data, func() { _ = rc.Close() }, nil
}

// WriteBundle writes the archive. Entries are written in a fixed order with
// the session's creation time as modification time, so equal data yields
// equal bytes.
func WriteBundle(w io.Writer, data *BundleData) error {
	zw := zip.NewWriter(w)
	modified := data.Session.CreatedAt.UTC().Truncate(time.Second)

	write := func(name string, fill func(io.Writer) error) error {
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		if err != nil {
			return err
		}
		return fill(entry)
	}

	if data.Source != nil {
		ext := strings.ToLower(path.Ext(data.Session.SourceFilename))
		if ext == "" {
			ext = ".mp4"
		}
		if err := write("original_video"+ext, func(e io.Writer) error {
			_, err := io.Copy(e, data.Source)
			return err
		}); err != nil {
			return err
		}
	}

	if err := write(entryFrameAnalysis, func(e io.Writer) error {
		return writeJSON(e, frameAnalysisEntries(data.Frames, data.Analyses))
	}); err != nil {
		return err
	}

	if data.Summary != nil {
		if err := write(entrySummary, func(e io.Writer) error {
			_, err := io.WriteString(e, RenderSummaryText(data.Summary))
			return err
		}); err != nil {
			return err
		}
	}

	if err := write(entryFindingsCSV, func(e io.Writer) error {
		return writeFindingsCSV(e, data.Frames, data.Analyses)
	}); err != nil {
		return err
	}

	if err := write(entryTranscript, func(e io.Writer) error {
		return writeJSON(e, transcriptEntries(data.Messages))
	}); err != nil {
		return err
	}

	if err := write(entryMetadata, func(e io.Writer) error {
		return writeJSON(e, bundleMetadata{
			SessionID:         data.Session.ID,
			Title:             data.Session.Title,
			ProcedureType:     data.Session.ProcedureType,
			SessionKind:       data.Session.Kind,
			CreatedAt:         data.Session.CreatedAt.UTC().Format(time.RFC3339),
			DurationSeconds:   data.Session.DurationSeconds,
			TotalFrames:       data.Session.TotalFrames,
			FramesAnalyzed:    len(data.Analyses),
			ExportGeneratedAt: data.GeneratedAt.UTC().Format(time.RFC3339),
		})
	}); err != nil {
		return err
	}

	return zw.Close()
}

func frameAnalysisEntries(frames []*entities.Frame, analyses []*entities.AnalysisResult) []frameAnalysisEntry {
	byFrame := make(map[int]*entities.AnalysisResult, len(analyses))
	for _, a := range analyses {
		byFrame[a.FrameIndex] = a
	}

	entries := make([]frameAnalysisEntry, 0, len(frames))
	for _, f := range frames {
		entry := frameAnalysisEntry{
			FrameIndex:  f.Index,
			Timestamp:   f.Timestamp(),
			TimestampMS: f.TimestampMS,
		}
		if a, ok := byFrame[f.Index]; ok {
			risk := string(a.RiskLevel)
			confidence := a.Confidence
			entry.Analysis = &a.Finding
			entry.Location = &a.Location
			entry.RiskLevel = &risk
			entry.ConfidenceScore = &confidence
			entry.DetectedFeatures = append([]string{}, a.Features...)
		}
		entries = append(entries, entry)
	}
	return entries
}

func transcriptEntries(messages []*entities.ConversationMessage) []transcriptEntry {
	entries := make([]transcriptEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, transcriptEntry{
			Role:             m.Role,
			Content:          m.Content,
			CreatedAt:        m.CreatedAt.UTC().Format(time.RFC3339Nano),
			VideoTimestampMS: m.VideoTimestampMS,
		})
	}
	return entries
}

func writeFindingsCSV(w io.Writer, frames []*entities.Frame, analyses []*entities.AnalysisResult) error {
	timestamps := make(map[int]string, len(frames))
	for _, f := range frames {
		timestamps[f.Index] = f.Timestamp()
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"frame_index", "timestamp", "location", "risk_level", "confidence", "finding"}); err != nil {
		return err
	}
	for _, a := range analyses {
		if a.Finding == "" {
			continue
		}
		if err := cw.Write([]string{
			strconv.Itoa(a.FrameIndex),
			timestamps[a.FrameIndex],
			a.Location,
			string(a.RiskLevel),
			strconv.FormatFloat(a.Confidence, 'f', 2, 64),
			a.Finding,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
