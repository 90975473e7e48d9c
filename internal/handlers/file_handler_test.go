package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/verso/internal/common"
	"github.com/ternarybob/verso/internal/models"
)

func TestServeFileHandler(t *testing.T) {
	_, mgr, store := newTestHandler(t, successPipeline)
	fileHandler := NewFileHandler(mgr, common.GetLogger())

	job, err := mgr.Submit(context.Background(), payloadFor("book.txt"), "alice", "user")
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, models.JobStatusCompleted)

	artifact := filepath.Join(mgr.Locator().MediaDir(job.ID), "chunk_0001.mp4")
	require.NoError(t, os.WriteFile(artifact, []byte("rendered"), 0644))

	rec := doRequest(fileHandler.ServeFileHandler, http.MethodGet, "/jobs/"+job.ID+"/files/media/chunk_0001.mp4", nil, "alice", "user")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rendered", rec.Body.String())
}

func TestServeFileHandlerHidesForeignJobs(t *testing.T) {
	_, mgr, store := newTestHandler(t, successPipeline)
	fileHandler := NewFileHandler(mgr, common.GetLogger())

	job, err := mgr.Submit(context.Background(), payloadFor("book.txt"), "alice", "user")
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, models.JobStatusCompleted)

	rec := doRequest(fileHandler.ServeFileHandler, http.MethodGet, "/jobs/"+job.ID+"/files/media/out.mp4", nil, "bob", "viewer")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeFileHandlerRejectsTraversal(t *testing.T) {
	_, mgr, store := newTestHandler(t, successPipeline)
	fileHandler := NewFileHandler(mgr, common.GetLogger())

	job, err := mgr.Submit(context.Background(), payloadFor("book.txt"), "alice", "user")
	require.NoError(t, err)
	waitForStatus(t, store, job.ID, models.JobStatusCompleted)

	rec := doRequest(fileHandler.ServeFileHandler, http.MethodGet, "/jobs/"+job.ID+"/files/..%2F..%2Fsecret", nil, "alice", "user")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
