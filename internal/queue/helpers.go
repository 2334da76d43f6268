package queue

import (
	"database/sql"
	"time"
)

const jobColumns = "id, run_id, source_path, title, status, media_id, config_fingerprint, job_dir, params_json, params_origin, detected_language, final_file, error_message, progress_stage, progress_message, created_at, updated_at, completed_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              int64
		runID           string
		sourcePath      string
		title           sql.NullString
		statusStr       string
		mediaID         sql.NullString
		fingerprint     sql.NullString
		jobDir          sql.NullString
		paramsJSON      sql.NullString
		paramsOrigin    sql.NullString
		detectedLang    sql.NullString
		finalFile       sql.NullString
		errorMessage    sql.NullString
		progressStage   sql.NullString
		progressMessage sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		completedRaw    sql.NullString
		heartbeatRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&runID,
		&sourcePath,
		&title,
		&statusStr,
		&mediaID,
		&fingerprint,
		&jobDir,
		&paramsJSON,
		&paramsOrigin,
		&detectedLang,
		&finalFile,
		&errorMessage,
		&progressStage,
		&progressMessage,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                id,
		RunID:             runID,
		SourcePath:        sourcePath,
		Title:             title.String,
		Status:            Status(statusStr),
		MediaID:           mediaID.String,
		ConfigFingerprint: fingerprint.String,
		JobDir:            jobDir.String,
		ParamsJSON:        paramsJSON.String,
		ParamsOrigin:      paramsOrigin.String,
		DetectedLanguage:  detectedLang.String,
		FinalFile:         finalFile.String,
		ErrorMessage:      errorMessage.String,
		ProgressStage:     progressStage.String,
		ProgressMessage:   progressMessage.String,
		CreatedAt:         parseTimestamp(createdRaw),
		UpdatedAt:         parseTimestamp(updatedRaw),
	}
	if completedRaw.Valid {
		if t := parseTimestamp(completedRaw); !t.IsZero() {
			job.CompletedAt = &t
		}
	}
	if heartbeatRaw.Valid {
		if t := parseTimestamp(heartbeatRaw); !t.IsZero() {
			job.LastHeartbeat = &t
		}
	}
	return job, nil
}

func parseTimestamp(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.String); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw.String); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
