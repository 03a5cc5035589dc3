package migrate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// backup writes a pg_dump custom-format archive before the migration
// transaction opens. The run id in the filename ties the archive to the log
// lines of the run that triggered it.
func (s *Sequencer) backup(ctx context.Context, runID uuid.UUID) (string, error) {
	dir := s.opts.BackupDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	filename := fmt.Sprintf("zettl-%s-%s.dump", time.Now().UTC().Format("20060102T150405Z"), runID)
	path := filepath.Join(dir, filename)

	cmd := exec.CommandContext(ctx, "pg_dump",
		"--format=custom",
		"--file", path,
		"--host", s.creds.Host,
		"--port", fmt.Sprintf("%d", s.creds.Port),
		"--username", s.creds.User,
		"--dbname", s.creds.Database,
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+s.creds.Password)

	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("pg_dump failed: %w: %s", err, output)
	}
	return path, nil
}
