package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// timeLayout is fixed width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "id, user_id, local_date, status, priority, playback_at, earliest_process_at, latest_completion_at, script_attempts, audio_attempts, next_attempt_at, lease_owner, lease_expires_at, failure_stage, failure_reason, preferences_json, script, script_ready_at, audio_key, audio_ready_at, audio_provider, script_billed_chars, audio_billed_chars, segmented, segment_count, segments_ready, segment_fallback, artifacts_purged_at, created_at, updated_at"

const segmentColumns = "job_id, segment_index, status, script_slice, audio_key, attempts, error, billed_chars, updated_at"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return t.UTC()
}

func parseNullTime(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	return &t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// statusList renders statuses as a quoted SQL list. Values come from model constants only.
func statusList(statuses ...model.JobStatus) string {
	quoted := make([]string, len(statuses))
	for i, s := range statuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*model.Job, error) {
	var (
		job               model.Job
		status            string
		playbackRaw       string
		earliestRaw       string
		latestRaw         string
		nextAttemptRaw    string
		leaseOwner        sql.NullString
		leaseExpiresRaw   sql.NullString
		failureStage      sql.NullString
		failureReason     sql.NullString
		preferencesRaw    string
		script            sql.NullString
		scriptReadyRaw    sql.NullString
		audioKey          sql.NullString
		audioReadyRaw     sql.NullString
		audioProvider     sql.NullString
		segmented         int
		segmentFallback   int
		artifactsPurgeRaw sql.NullString
		createdRaw        string
		updatedRaw        string
	)

	if err := scanner.Scan(
		&job.ID,
		&job.UserID,
		&job.LocalDate,
		&status,
		&job.Priority,
		&playbackRaw,
		&earliestRaw,
		&latestRaw,
		&job.ScriptAttempts,
		&job.AudioAttempts,
		&nextAttemptRaw,
		&leaseOwner,
		&leaseExpiresRaw,
		&failureStage,
		&failureReason,
		&preferencesRaw,
		&script,
		&scriptReadyRaw,
		&audioKey,
		&audioReadyRaw,
		&audioProvider,
		&job.ScriptBilledChars,
		&job.AudioBilledChars,
		&segmented,
		&job.SegmentCount,
		&job.SegmentsReady,
		&segmentFallback,
		&artifactsPurgeRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.PlaybackAt = parseTime(playbackRaw)
	job.EarliestProcessAt = parseTime(earliestRaw)
	job.LatestCompletionAt = parseTime(latestRaw)
	job.NextAttemptAt = parseTime(nextAttemptRaw)
	job.LeaseOwner = leaseOwner.String
	job.LeaseExpiresAt = parseNullTime(leaseExpiresRaw)
	job.FailureStage = model.Stage(failureStage.String)
	job.FailureReason = failureReason.String
	job.Script = script.String
	job.ScriptReadyAt = parseNullTime(scriptReadyRaw)
	job.AudioKey = audioKey.String
	job.AudioReadyAt = parseNullTime(audioReadyRaw)
	job.AudioProvider = audioProvider.String
	job.Segmented = segmented != 0
	job.SegmentFallback = segmentFallback != 0
	job.ArtifactsPurgedAt = parseNullTime(artifactsPurgeRaw)
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)

	if err := json.Unmarshal([]byte(preferencesRaw), &job.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences for job %s: %w", job.ID, err)
	}
	return &job, nil
}

func scanSegment(scanner interface{ Scan(dest ...any) error }) (*model.AudioSegment, error) {
	var (
		seg        model.AudioSegment
		status     string
		audioKey   sql.NullString
		errMessage sql.NullString
		updatedRaw string
	)
	if err := scanner.Scan(
		&seg.JobID,
		&seg.Index,
		&status,
		&seg.ScriptSlice,
		&audioKey,
		&seg.Attempts,
		&errMessage,
		&seg.BilledChars,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	seg.Status = model.SegmentStatus(status)
	seg.AudioKey = audioKey.String
	seg.Error = errMessage.String
	seg.UpdatedAt = parseTime(updatedRaw)
	return &seg, nil
}
