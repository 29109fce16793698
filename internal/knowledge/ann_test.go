package knowledge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

func TestValidateIndexConfig(t *testing.T) {
	tests := []struct {
		indexType IndexType
		metric    DistanceMetric
		ok        bool
	}{
		{IndexTypeFlat, MetricL2, true},
		{IndexTypeFlat, MetricInnerProduct, true},
		{IndexTypeFlat, MetricCosine, true},
		{IndexTypeIVF, MetricL2, true},
		{IndexTypeIVF, MetricInnerProduct, true},
		{IndexTypeIVF, MetricCosine, false},
		{IndexTypeHNSW, MetricL2, true},
		{IndexTypeHNSW, MetricInnerProduct, false},
		{IndexTypeHNSW, MetricCosine, false},
		{"BadType", MetricL2, false},
	}

	for _, tt := range tests {
		err := validateIndexConfig(tt.indexType, tt.metric)
		if tt.ok {
			assert.NoError(t, err, "%s/%s", tt.indexType, tt.metric)
		} else {
			assert.Error(t, err, "%s/%s", tt.indexType, tt.metric)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfiguration))
		}
	}
}

func TestFlatIndexSearchPadding(t *testing.T) {
	idx := &flatIndex{Dim: 2, Metric: MetricL2}
	require.NoError(t, idx.Add([][]float32{{0, 0}, {1, 1}}))

	slots, scores, err := idx.Search([]float32{0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, slots, 4)
	require.Len(t, scores, 4)

	assert.Equal(t, 0, slots[0])
	assert.Equal(t, 1, slots[1])
	assert.Equal(t, -1, slots[2])
	assert.Equal(t, -1, slots[3])
	assert.Equal(t, float32(0), scores[0])
	assert.Equal(t, float32(2), scores[1])
}

func TestFlatIndexDimensionMismatch(t *testing.T) {
	idx := &flatIndex{Dim: 3, Metric: MetricL2}
	err := idx.Add([][]float32{{1, 2}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDimensionMismatch))

	_, _, err = idx.Search([]float32{1, 2}, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDimensionMismatch))
}

func TestFlatIndexInnerProductOrdering(t *testing.T) {
	idx := &flatIndex{Dim: 2, Metric: MetricInnerProduct}
	require.NoError(t, idx.Add([][]float32{{1, 0}, {0, 1}, {0.5, 0.5}}))

	slots, scores, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	// 内积越大越靠前
	assert.Equal(t, []int{0, 2, 1}, slots)
	assert.Equal(t, float32(1), scores[0])
}

func TestIVFIndexRequiresTraining(t *testing.T) {
	idx := &ivfIndex{Dim: 2, Metric: MetricL2, Nlist: 4, Nprobe: 2}

	err := idx.Add([][]float32{{1, 2}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))

	_, _, err = idx.Search([]float32{1, 2}, 1)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestIVFIndexTrainAndSearch(t *testing.T) {
	idx := &ivfIndex{Dim: 2, Metric: MetricL2, Nlist: 2, Nprobe: 2}

	// 两个明显分离的簇
	vectors := [][]float32{
		{0, 0}, {10, 10},
		{0.1, 0}, {10.1, 10},
		{0, 0.1}, {10, 10.1},
	}
	require.NoError(t, idx.Train(vectors))
	require.NoError(t, idx.Add(vectors))
	assert.Equal(t, 6, idx.Len())

	slots, scores, err := idx.Search([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, slots[0])
	assert.Equal(t, float32(0), scores[0])
	// 第二近的必然来自原点簇
	assert.Contains(t, []int{2, 4}, slots[1])
}

func TestIVFIndexTrainFewerVectorsThanNlist(t *testing.T) {
	idx := &ivfIndex{Dim: 2, Metric: MetricL2, Nlist: 100, Nprobe: 10}

	vectors := [][]float32{{0, 0}, {5, 5}}
	require.NoError(t, idx.Train(vectors))
	require.NoError(t, idx.Add(vectors))

	slots, _, err := idx.Search([]float32{4, 4}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, slots[0])
}

func TestIVFIndexTrainEmpty(t *testing.T) {
	idx := &ivfIndex{Dim: 2, Metric: MetricL2, Nlist: 4, Nprobe: 2}
	assert.Error(t, idx.Train(nil))
}

func TestHNSWIndexSearch(t *testing.T) {
	idx := &hnswIndex{Dim: 2, M: 4, EfSearch: 16}

	vectors := [][]float32{
		{0, 0}, {1, 0}, {0, 1}, {5, 5}, {6, 5}, {5, 6}, {-3, -3},
	}
	require.NoError(t, idx.Add(vectors))
	assert.Equal(t, 7, idx.Len())

	slots, scores, err := idx.Search([]float32{5.1, 5.1}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, slots[0])
	assert.InDelta(t, 0.02, scores[0], 1e-5)
	assert.ElementsMatch(t, []int{4, 5}, slots[1:])
}

func TestHNSWIndexEmptySearch(t *testing.T) {
	idx := &hnswIndex{Dim: 2, M: 4, EfSearch: 16}
	slots, _, err := idx.Search([]float32{1, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, -1}, slots)
}

func TestIndexGobRoundTrip(t *testing.T) {
	original := &flatIndex{Dim: 2, Metric: MetricInnerProduct}
	require.NoError(t, original.Add([][]float32{{1, 0}, {0, 1}}))

	var buf bytes.Buffer
	require.NoError(t, writeNNIndex(&buf, IndexTypeFlat, original))

	indexType, restored, err := readNNIndex(&buf)
	require.NoError(t, err)
	assert.Equal(t, IndexTypeFlat, indexType)
	assert.Equal(t, 2, restored.Len())

	slots, scores, err := restored.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, slots[0])
	assert.Equal(t, float32(1), scores[0])
}

func TestIndexGobCorrupted(t *testing.T) {
	_, _, err := readNNIndex(bytes.NewBufferString("not gob data"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeIndexCorrupted))
}
