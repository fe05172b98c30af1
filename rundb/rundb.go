// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb records QTP acquisition runs in a MySQL database.
package rundb // import "github.com/go-lpc/qtp/rundb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/qtp/daq"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// Run describes an acquisition run.
type Run struct {
	ID       int32  `db:"run"`
	Session  string `db:"session"`
	Model    string `db:"model"`
	Serial   uint16 `db:"serial"`
	Channels int    `db:"channels"`

	Start       time.Time    `db:"start"`
	Stop        sql.NullTime `db:"stop"`
	Events      int64        `db:"events"`
	Bytes       int64        `db:"bytes"`
	FrameErrors int64        `db:"frame_errors"`
}

// DB exposes the run bookkeeping queries.
type DB struct {
	db *sqlx.DB
}

// DSN returns the data source name of the MySQL database dbname.
func DSN(usr, pwd, addr, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbname
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// Open opens a connection to the run database.
func Open(dsn string) (*DB, error) {
	db, err := sqlx.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open db: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rundb: could not ping db: %w", err)
	}

	return &DB{db: db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastRun returns the most recent run.
// LastRun returns a zero Run if the database holds no run.
func (db *DB) LastRun(ctx context.Context) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var run Run
	err := db.db.QueryRowxContext(
		ctx,
		"SELECT * FROM runs ORDER BY run DESC LIMIT 1",
	).StructScan(&run)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, nil
	case err != nil:
		return run, fmt.Errorf("rundb: could not query last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return run, fmt.Errorf("rundb: context error while retrieving last run: %w", err)
	}

	return run, nil
}

// StartRun records the start of a run.
// A session key and a start time are assigned to the run if missing.
func (db *DB) StartRun(ctx context.Context, run Run) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if run.Session == "" {
		run.Session = uuid.New().String()
	}
	if run.Start.IsZero() {
		run.Start = time.Now().UTC()
	}

	_, err := db.db.NamedExecContext(
		ctx,
		`INSERT INTO runs (run, session, model, serial, channels, start)
VALUES (:run, :session, :model, :serial, :channels, :start)`,
		run,
	)
	if err != nil {
		return run, fmt.Errorf("rundb: could not insert run %d: %w", run.ID, err)
	}

	return run, nil
}

// EndRun records the statistics of a finished run.
func (db *DB) EndRun(ctx context.Context, run Run, sum daq.Summary) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stop := sum.Stop
	if stop.IsZero() {
		stop = time.Now()
	}
	run.Stop = sql.NullTime{Time: stop.UTC(), Valid: true}
	run.Events = sum.Events
	run.Bytes = sum.Bytes
	run.FrameErrors = sum.FrameErrors

	_, err := db.db.NamedExecContext(
		ctx,
		`UPDATE runs SET
	stop=:stop, events=:events, bytes=:bytes, frame_errors=:frame_errors
WHERE session=:session`,
		run,
	)
	if err != nil {
		return run, fmt.Errorf("rundb: could not update run %d: %w", run.ID, err)
	}

	return run, nil
}
