package knowledge

import (
	"container/heap"
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
)

// IndexType 索引结构类型
type IndexType string

const (
	IndexTypeFlat IndexType = "Flat"
	IndexTypeIVF  IndexType = "IVF"
	IndexTypeHNSW IndexType = "HNSW"
)

// DistanceMetric 距离度量
type DistanceMetric string

const (
	MetricL2           DistanceMetric = "L2"
	MetricInnerProduct DistanceMetric = "IP"
	MetricCosine       DistanceMetric = "Cosine"
)

const (
	defaultNlist    = 100
	defaultNprobe   = 10
	defaultHNSWM    = 32
	defaultEfSearch = 64
)

// validateIndexConfig 校验索引类型与度量的组合
func validateIndexConfig(indexType IndexType, metric DistanceMetric) error {
	switch indexType {
	case IndexTypeFlat:
		switch metric {
		case MetricL2, MetricInnerProduct, MetricCosine:
			return nil
		}
	case IndexTypeIVF:
		switch metric {
		case MetricL2, MetricInnerProduct:
			return nil
		}
	case IndexTypeHNSW:
		if metric == MetricL2 {
			return nil
		}
	default:
		return apperrors.NewConfigurationError(fmt.Sprintf("unsupported index type: %s", indexType))
	}
	return apperrors.NewConfigurationError(
		fmt.Sprintf("index type %s does not support metric %s", indexType, metric))
}

// nnIndex 底层最近邻索引，槽位即向量插入顺序
type nnIndex interface {
	Add(vectors [][]float32) error
	// Search 返回槽位与原始距离/相似度，不足k个时以-1补齐
	Search(query []float32, k int) ([]int, []float32, error)
	Len() int
}

// newNNIndex 按类型创建底层索引，Cosine在上层归一化后按内积处理
func newNNIndex(indexType IndexType, metric DistanceMetric, dim int) (nnIndex, error) {
	if err := validateIndexConfig(indexType, metric); err != nil {
		return nil, err
	}
	switch indexType {
	case IndexTypeIVF:
		return &ivfIndex{Dim: dim, Metric: metric, Nlist: defaultNlist, Nprobe: defaultNprobe}, nil
	case IndexTypeHNSW:
		return &hnswIndex{Dim: dim, M: defaultHNSWM, EfSearch: defaultEfSearch}, nil
	default:
		return &flatIndex{Dim: dim, Metric: metric}, nil
	}
}

// rawScore L2返回平方距离（越小越好），IP/Cosine返回内积（越大越好）
func rawScore(metric DistanceMetric, a, b []float32) float32 {
	if metric == MetricL2 {
		return l2Squared(a, b)
	}
	return dot(a, b)
}

// betterScore 判断按度量语义x是否优于y
func betterScore(metric DistanceMetric, x, y float32) bool {
	if metric == MetricL2 {
		return x < y
	}
	return x > y
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

type scoredSlot struct {
	slot  int
	score float32
}

// rankSlots 按度量排序并补齐到k个
func rankSlots(metric DistanceMetric, candidates []scoredSlot, k int) ([]int, []float32) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return betterScore(metric, candidates[i].score, candidates[j].score)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	slots := make([]int, k)
	scores := make([]float32, k)
	for i := 0; i < k; i++ {
		if i < len(candidates) {
			slots[i] = candidates[i].slot
			scores[i] = candidates[i].score
		} else {
			slots[i] = -1
		}
	}
	return slots, scores
}

// flatIndex 暴力扫描索引，结果精确
type flatIndex struct {
	Dim     int
	Metric  DistanceMetric
	Vectors [][]float32
}

func (f *flatIndex) Add(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.Dim {
			return apperrors.NewDimensionMismatchError(f.Dim, len(v))
		}
		f.Vectors = append(f.Vectors, v)
	}
	return nil
}

func (f *flatIndex) Search(query []float32, k int) ([]int, []float32, error) {
	if len(query) != f.Dim {
		return nil, nil, apperrors.NewDimensionMismatchError(f.Dim, len(query))
	}

	candidates := make([]scoredSlot, 0, len(f.Vectors))
	for slot, v := range f.Vectors {
		candidates = append(candidates, scoredSlot{slot: slot, score: rawScore(f.Metric, query, v)})
	}
	slots, scores := rankSlots(f.Metric, candidates, k)
	return slots, scores, nil
}

func (f *flatIndex) Len() int {
	return len(f.Vectors)
}

// ivfIndex 倒排文件索引，k-means聚类后只扫描最近的nprobe个簇
type ivfIndex struct {
	Dim       int
	Metric    DistanceMetric
	Nlist     int
	Nprobe    int
	Trained   bool
	Centroids [][]float32
	Lists     [][]int32
	Vectors   [][]float32
}

// Train 用训练向量做k-means聚类，质心从前nlist个向量确定性初始化
func (v *ivfIndex) Train(vectors [][]float32) error {
	if len(vectors) == 0 {
		return apperrors.NewInvalidInputError("vectors", "training set must not be empty")
	}

	nlist := v.Nlist
	if nlist > len(vectors) {
		nlist = len(vectors)
	}

	centroids := make([][]float32, nlist)
	for i := range centroids {
		centroids[i] = append([]float32(nil), vectors[i]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < 10; iter++ {
		changed := false
		for i, vec := range vectors {
			best := nearestCentroid(centroids, vec)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, v.Dim)
		}
		for i, vec := range vectors {
			c := assignments[i]
			counts[c]++
			for j, x := range vec {
				sums[c][j] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = float32(sums[c][j] / float64(counts[c]))
			}
		}

		if !changed && iter > 0 {
			break
		}
	}

	v.Centroids = centroids
	v.Lists = make([][]int32, nlist)
	v.Trained = true
	return nil
}

func (v *ivfIndex) Add(vectors [][]float32) error {
	if !v.Trained {
		return apperrors.NewBusinessError(apperrors.ErrCodeInvalidState, "IVF index must be trained before adding vectors")
	}
	for _, vec := range vectors {
		if len(vec) != v.Dim {
			return apperrors.NewDimensionMismatchError(v.Dim, len(vec))
		}
		slot := int32(len(v.Vectors))
		v.Vectors = append(v.Vectors, vec)
		list := nearestCentroid(v.Centroids, vec)
		v.Lists[list] = append(v.Lists[list], slot)
	}
	return nil
}

func (v *ivfIndex) Search(query []float32, k int) ([]int, []float32, error) {
	if !v.Trained {
		return nil, nil, apperrors.NewBusinessError(apperrors.ErrCodeInvalidState, "IVF index has not been trained")
	}
	if len(query) != v.Dim {
		return nil, nil, apperrors.NewDimensionMismatchError(v.Dim, len(query))
	}

	// 按与查询的距离挑选nprobe个簇
	type listDist struct {
		list int
		dist float32
	}
	ranked := make([]listDist, len(v.Centroids))
	for i, c := range v.Centroids {
		ranked[i] = listDist{list: i, dist: l2Squared(query, c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	nprobe := v.Nprobe
	if nprobe > len(ranked) {
		nprobe = len(ranked)
	}

	var candidates []scoredSlot
	for _, ld := range ranked[:nprobe] {
		for _, slot := range v.Lists[ld.list] {
			candidates = append(candidates, scoredSlot{
				slot:  int(slot),
				score: rawScore(v.Metric, query, v.Vectors[slot]),
			})
		}
	}
	slots, scores := rankSlots(v.Metric, candidates, k)
	return slots, scores, nil
}

func (v *ivfIndex) Len() int {
	return len(v.Vectors)
}

func nearestCentroid(centroids [][]float32, vec []float32) int {
	best := 0
	bestDist := l2Squared(centroids[0], vec)
	for i := 1; i < len(centroids); i++ {
		if d := l2Squared(centroids[i], vec); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// hnswIndex 图结构近似索引，仅支持L2。插入时与最近的M个节点建立双向边，
// 查询时从0号节点出发做带候选集的贪心扩展
type hnswIndex struct {
	Dim      int
	M        int
	EfSearch int
	Vectors  [][]float32
	Links    [][]int32
}

func (h *hnswIndex) Add(vectors [][]float32) error {
	for _, vec := range vectors {
		if len(vec) != h.Dim {
			return apperrors.NewDimensionMismatchError(h.Dim, len(vec))
		}

		slot := int32(len(h.Vectors))
		neighbors := h.nearestExisting(vec, h.M)
		h.Vectors = append(h.Vectors, vec)
		h.Links = append(h.Links, neighbors)
		for _, n := range neighbors {
			h.Links[n] = append(h.Links[n], slot)
			if len(h.Links[n]) > 2*h.M {
				h.pruneLinks(int(n))
			}
		}
	}
	return nil
}

// nearestExisting 插入期的精确近邻扫描
func (h *hnswIndex) nearestExisting(vec []float32, m int) []int32 {
	candidates := make([]scoredSlot, 0, len(h.Vectors))
	for slot, v := range h.Vectors {
		candidates = append(candidates, scoredSlot{slot: slot, score: l2Squared(vec, v)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	if len(candidates) > m {
		candidates = candidates[:m]
	}

	neighbors := make([]int32, len(candidates))
	for i, c := range candidates {
		neighbors[i] = int32(c.slot)
	}
	return neighbors
}

// pruneLinks 邻接表超限时裁剪，保留距离最近的2*M条边
func (h *hnswIndex) pruneLinks(node int) {
	links := h.Links[node]
	sort.SliceStable(links, func(i, j int) bool {
		return l2Squared(h.Vectors[node], h.Vectors[links[i]]) < l2Squared(h.Vectors[node], h.Vectors[links[j]])
	})
	h.Links[node] = links[:2*h.M]
}

func (h *hnswIndex) Search(query []float32, k int) ([]int, []float32, error) {
	if len(query) != h.Dim {
		return nil, nil, apperrors.NewDimensionMismatchError(h.Dim, len(query))
	}
	if len(h.Vectors) == 0 {
		slots, scores := rankSlots(MetricL2, nil, k)
		return slots, scores, nil
	}

	ef := h.EfSearch
	if ef < k {
		ef = k
	}

	visited := map[int32]bool{0: true}
	entryDist := l2Squared(query, h.Vectors[0])

	candidates := &slotHeap{items: []scoredSlot{{slot: 0, score: entryDist}}, min: true}
	heap.Init(candidates)
	results := &slotHeap{items: []scoredSlot{{slot: 0, score: entryDist}}, min: false}
	heap.Init(results)

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(scoredSlot)
		worst := results.items[0]
		if results.Len() >= ef && current.score > worst.score {
			break
		}
		for _, n := range h.Links[current.slot] {
			if visited[n] {
				continue
			}
			visited[n] = true
			d := l2Squared(query, h.Vectors[n])
			if results.Len() < ef || d < results.items[0].score {
				heap.Push(candidates, scoredSlot{slot: int(n), score: d})
				heap.Push(results, scoredSlot{slot: int(n), score: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	slots, scores := rankSlots(MetricL2, results.items, k)
	return slots, scores, nil
}

func (h *hnswIndex) Len() int {
	return len(h.Vectors)
}

// slotHeap min=true为最小堆（候选集），否则为最大堆（结果集）
type slotHeap struct {
	items []scoredSlot
	min   bool
}

func (s *slotHeap) Len() int { return len(s.items) }
func (s *slotHeap) Less(i, j int) bool {
	if s.min {
		return s.items[i].score < s.items[j].score
	}
	return s.items[i].score > s.items[j].score
}
func (s *slotHeap) Swap(i, j int) { s.items[i], s.items[j] = s.items[j], s.items[i] }
func (s *slotHeap) Push(x interface{}) {
	s.items = append(s.items, x.(scoredSlot))
}
func (s *slotHeap) Pop() interface{} {
	old := s.items
	n := len(old)
	item := old[n-1]
	s.items = old[:n-1]
	return item
}

// indexEnvelope gob序列化的持久化载体
type indexEnvelope struct {
	Type IndexType
	Flat *flatIndex
	IVF  *ivfIndex
	HNSW *hnswIndex
}

// writeNNIndex 将底层索引完整写出，加载后检索结果与保存前一致
func writeNNIndex(w io.Writer, indexType IndexType, idx nnIndex) error {
	envelope := indexEnvelope{Type: indexType}
	switch typed := idx.(type) {
	case *flatIndex:
		envelope.Flat = typed
	case *ivfIndex:
		envelope.IVF = typed
	case *hnswIndex:
		envelope.HNSW = typed
	default:
		return apperrors.NewSystemError(apperrors.ErrCodeInternalServer, "unknown index implementation")
	}
	return gob.NewEncoder(w).Encode(&envelope)
}

// readNNIndex 从持久化数据恢复底层索引
func readNNIndex(r io.Reader) (IndexType, nnIndex, error) {
	var envelope indexEnvelope
	if err := gob.NewDecoder(r).Decode(&envelope); err != nil {
		return "", nil, apperrors.NewBusinessError(apperrors.ErrCodeIndexCorrupted, "failed to decode index data").WithCause(err)
	}
	switch envelope.Type {
	case IndexTypeFlat:
		if envelope.Flat != nil {
			return envelope.Type, envelope.Flat, nil
		}
	case IndexTypeIVF:
		if envelope.IVF != nil {
			return envelope.Type, envelope.IVF, nil
		}
	case IndexTypeHNSW:
		if envelope.HNSW != nil {
			return envelope.Type, envelope.HNSW, nil
		}
	}
	return "", nil, apperrors.NewBusinessError(apperrors.ErrCodeIndexCorrupted, "index data missing payload")
}
