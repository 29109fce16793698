package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wengyuechuan/rag-backend/internal/models"
)

func TestProcessDuplicateSubmissionIsNoop(t *testing.T) {
	embedder := &pipelineEmbedder{gate: make(chan struct{})}
	f := newProcessorFixture(t, embedder)
	docs := NewDocumentService(f.kbRepo, f.docRepo, f.chunkRepo, f.svc)

	kbID := f.createKB(t, fullFeatureKB())
	docID := f.createDoc(t, kbID, "重复提交的文档内容。")

	require.NoError(t, docs.Process(context.Background(), docID))
	// 第一次提交尚在处理中，重复提交静默成功
	require.NoError(t, docs.Process(context.Background(), docID))

	close(embedder.gate)
	f.waitForStatus(t, docID, models.DocumentStatusCompleted)
}

func TestProcessDocumentMissing(t *testing.T) {
	f := newProcessorFixture(t, &pipelineEmbedder{})
	docs := NewDocumentService(f.kbRepo, f.docRepo, f.chunkRepo, f.svc)

	err := docs.Process(context.Background(), 999)
	assert.Error(t, err)
}
