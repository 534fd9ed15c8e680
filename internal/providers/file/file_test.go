// ABOUTME: Tests for the file-backed report provider.
// ABOUTME: Covers directory listing, missing-directory tolerance, and report parsing.

package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jfeddern/TrivyScope/internal/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

const sampleReport = `{
	"ArtifactName": "app:1.0",
	"CreatedAt": "2025-01-15T10:30:00Z",
	"Results": [
		{"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2024-0001", "PkgName": "libfoo", "InstalledVersion": "1.2.3", "FixedVersion": "1.2.4", "Severity": "HIGH", "Title": "libfoo: bad"},
			{"VulnerabilityID": "CVE-2024-0002", "PkgName": "libfoo", "InstalledVersion": "1.2.3", "Severity": "HIGH", "Title": "libfoo: worse"}
		]}
	]
}`

func TestListSubjectsFindsJSONReports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.json"), []byte(sampleReport), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a report"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.json"), 0o755))

	provider := NewProvider(dir, testLogger())

	subjects, err := provider.ListSubjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 1, "only regular *.json files are subjects")

	assert.Equal(t, filepath.Join(dir, "app.json"), subjects[0].Identity)
	assert.Equal(t, "local", subjects[0].Scope)
	assert.Equal(t, types.SourceKindReport, subjects[0].SourceKind)
}

func TestListSubjectsMissingDirectoryIsNonFatal(t *testing.T) {
	provider := NewProvider("/does/not/exist", testLogger())

	subjects, err := provider.ListSubjects(context.Background())
	assert.NoError(t, err, "a missing reports directory must not fail the cycle")
	assert.Empty(t, subjects)
}

func TestListSubjectsEmptyDirectory(t *testing.T) {
	provider := NewProvider(t.TempDir(), testLogger())

	subjects, err := provider.ListSubjects(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, subjects)
}

func TestScanParsesReportFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleReport), 0o644))

	provider := NewProvider(dir, testLogger())

	report, err := provider.Scan(context.Background(), types.ScanSubject{
		Identity:   path,
		Scope:      "local",
		SourceKind: types.SourceKindReport,
	})
	require.NoError(t, err)

	assert.Equal(t, "app:1.0", report.Subject.Identity, "report identity comes from ArtifactName")
	assert.Equal(t, "local", report.Subject.Scope)
	assert.Len(t, report.Findings, 2)
	require.NotNil(t, report.ScanTime)
}

func TestScanMalformedReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	provider := NewProvider(dir, testLogger())

	_, err := provider.Scan(context.Background(), types.ScanSubject{Identity: path, Scope: "local", SourceKind: types.SourceKindReport})
	require.Error(t, err)

	var scanErr *types.ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, types.ErrorKindParse, scanErr.Kind)
}

func TestScanUnreadableFile(t *testing.T) {
	provider := NewProvider(t.TempDir(), testLogger())

	_, err := provider.Scan(context.Background(), types.ScanSubject{
		Identity:   "/does/not/exist.json",
		Scope:      "local",
		SourceKind: types.SourceKindReport,
	})
	require.Error(t, err)

	var scanErr *types.ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, types.ErrorKindSourceUnavailable, scanErr.Kind)
}
