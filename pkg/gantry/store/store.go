/*
 * Copyright (c) 2021 THL A29 Limited, a Tencent company.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 *
 * You may obtain a copy of the License at http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tencent/gantry/pkg/gantry/types"

	"github.com/fatih/structs"
	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"
)

const (
	driverName = "sqlite3"

	tableJobs      = "jobs"
	tableNodes     = "nodes"
	tableGhostJobs = "ghost_jobs"

	structTag = "structs"
)

// Tables lists all tables of the store
var Tables = []string{tableNodes, tableJobs, tableGhostJobs}

// ErrNotFound is returned when the requested row does not exist
var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

// Store is the sqlite store of collected jobs
type Store struct {
	db *sql.DB
}

// Open opens the database file, tables are created when missing
func Open(config types.StoreConfig) (*Store, error) {
	if dir := filepath.Dir(config.DBFile); len(dir) != 0 {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database dir %s: %v", dir, err)
		}
	}
	// foreign keys are a per connection setting
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000", config.DBFile)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %v", config.DBFile, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema of %s: %v", config.DBFile, err)
	}
	klog.V(2).Infof("database %s opened", config.DBFile)
	return &Store{db: db}, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// insertStatement crafts an insert statement from the structs tags of the record,
// the columns keep the field order
func insertStatement(table string, record interface{}, ignore bool) (string, []interface{}) {
	var columns, marks []string
	var values []interface{}
	for _, field := range structs.New(record).Fields() {
		column := field.Tag(structTag)
		if len(column) == 0 || column == "-" {
			continue
		}
		columns = append(columns, column)
		marks = append(marks, "?")
		values = append(values, field.Value())
	}

	verb := "INSERT"
	if ignore {
		verb = "INSERT OR IGNORE"
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table,
		strings.Join(columns, ", "), strings.Join(marks, ", "))
	return query, values
}

// InsertNode inserts the node and returns its id. A node which already exists is not
// changed, the id of the existing row is returned.
func (s *Store) InsertNode(ctx context.Context, node *types.Node) (int64, error) {
	query, values := insertStatement(tableNodes, node, true)
	result, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, fmt.Errorf("insert node %s: %v", node.UUID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		// another request inserted the node first
		id, found, err := s.GetNode(ctx, node.UUID)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("node %s ignored but not found", node.UUID)
		}
		return id, nil
	}
	return result.LastInsertId()
}

// InsertJob inserts the job, a job already stored is ignored and 0 is returned
func (s *Store) InsertJob(ctx context.Context, job *types.Job) (int64, error) {
	query, values := insertStatement(tableJobs, job, true)
	result, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return 0, fmt.Errorf("insert job %d: %v", job.GitlabID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		klog.Warningf("job %d already stored, insert ignored", job.GitlabID)
		return 0, nil
	}
	return result.LastInsertId()
}

// InsertGhost records a job which did not really build anything
func (s *Store) InsertGhost(ctx context.Context, gitlabID int64) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (gitlab_id) VALUES (?)", tableGhostJobs), gitlabID)
	if err != nil {
		return fmt.Errorf("insert ghost job %d: %v", gitlabID, err)
	}
	return nil
}

// GetNode returns the id of the node with the uuid
func (s *Store) GetNode(ctx context.Context, uuid string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE uuid = ?", tableNodes), uuid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get node %s: %v", uuid, err)
	}
	return id, true, nil
}

// JobExists checks if the job has been collected
func (s *Store) JobExists(ctx context.Context, gitlabID int64) (bool, error) {
	exists, err := s.exists(ctx, tableJobs, gitlabID)
	if exists {
		klog.Warningf("job %d already in database, check why multiple requests are being sent", gitlabID)
	}
	return exists, err
}

// GhostExists checks if the job is a known ghost
func (s *Store) GhostExists(ctx context.Context, gitlabID int64) (bool, error) {
	return s.exists(ctx, tableGhostJobs, gitlabID)
}

func (s *Store) exists(ctx context.Context, table string, gitlabID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT id FROM %s WHERE gitlab_id = ?", table), gitlabID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s for job %d: %v", table, gitlabID, err)
	}
	return true, nil
}

// CountRows returns the number of rows of the table
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	if !isTable(table) {
		return 0, fmt.Errorf("unknown table %s", table)
	}
	var count int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %v", table, err)
	}
	return count, nil
}

// GetJob returns the job with the gitlab id
func (s *Store) GetJob(ctx context.Context, gitlabID int64) (*types.Job, error) {
	jobs, err := s.queryJobs(ctx, "WHERE gitlab_id = ?", gitlabID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// ListJobs returns the latest jobs, newest first
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	return s.queryJobs(ctx, "ORDER BY end DESC LIMIT ?", limit)
}

func (s *Store) queryJobs(ctx context.Context, clause string, args ...interface{}) ([]*types.Job, error) {
	columns := jobColumns()
	query := fmt.Sprintf("SELECT id, %s FROM %s %s", strings.Join(columns, ", "), tableJobs, clause)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %v", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job := &types.Job{}
		var cpuLimit sql.NullFloat64
		err := rows.Scan(&job.ID, &job.Pod, &job.Node, &job.Start, &job.End, &job.GitlabID,
			&job.JobStatus, &job.Ref, &job.PkgName, &job.PkgVersion, &job.PkgVariants,
			&job.CompilerName, &job.CompilerVersion, &job.Arch, &job.Stack, &job.BuildJobs,
			&job.CPURequest, &cpuLimit, &job.CPUMean, &job.CPUMedian, &job.CPUMax, &job.CPUMin,
			&job.CPUStddev, &job.MemRequest, &job.MemLimit, &job.MemMean, &job.MemMedian,
			&job.MemMax, &job.MemMin, &job.MemStddev, &job.OOM, &job.RetryCount)
		if err != nil {
			return nil, fmt.Errorf("scan job: %v", err)
		}
		if cpuLimit.Valid {
			limit := cpuLimit.Float64
			job.CPULimit = &limit
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func jobColumns() []string {
	var columns []string
	for _, field := range structs.New(&types.Job{}).Fields() {
		if column := field.Tag(structTag); len(column) != 0 && column != "-" {
			columns = append(columns, column)
		}
	}
	return columns
}

func isTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}
