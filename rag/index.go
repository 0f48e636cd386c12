package rag

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// SearchStrategy 检索策略。
type SearchStrategy string

const (
	StrategySimilarity SearchStrategy = "similarity" // 纯余弦相似度
	StrategyMMR        SearchStrategy = "mmr"        // 最大边际相关性
)

// MMRConfig MMR 策略参数。
type MMRConfig struct {
	FetchK int     `json:"fetch_k" yaml:"fetch_k"` // 预取候选数
	Lambda float64 `json:"lambda" yaml:"lambda"`   // 相关性与多样性权衡，1 为纯相关
}

// DefaultMMRConfig 默认 MMR 参数。
func DefaultMMRConfig() MMRConfig {
	return MMRConfig{FetchK: 20, Lambda: 0.5}
}

// indexEntry 索引中的一条记录。seq 记录首次插入顺序，用于同分稳定排序。
type indexEntry struct {
	chunk  Chunk
	vector []float64
	seq    int64
}

// indexSnapshot 不可变快照。读路径只解引用快照，不加锁。
type indexSnapshot struct {
	entries []indexEntry
	byID    map[string]int
}

// Index 内存向量索引。单写多读：Upsert/DeleteAll 由互斥锁串行化并
// 以写时复制发布新快照，Search 通过 atomic.Pointer 无锁读取。
type Index struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[indexSnapshot]
	nextSeq  int64
	mmr      MMRConfig
	logger   *zap.Logger
}

// NewIndex 创建空索引。
func NewIndex(mmr MMRConfig, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if mmr.FetchK <= 0 {
		mmr.FetchK = 20
	}
	if mmr.Lambda <= 0 || mmr.Lambda > 1 {
		mmr.Lambda = 0.5
	}
	idx := &Index{
		mmr:    mmr,
		logger: logger.With(zap.String("component", "rag.index")),
	}
	idx.snapshot.Store(&indexSnapshot{byID: map[string]int{}})
	return idx
}

// Upsert 插入或替换块。按块 ID 幂等：重复插入覆盖向量与内容，
// 保留首次插入顺序。
func (idx *Index) Upsert(chunk Chunk, vector []float64) error {
	if chunk.ID == "" {
		return fmt.Errorf("chunk id is empty")
	}
	if len(vector) == 0 {
		return fmt.Errorf("vector for chunk %s is empty", chunk.ID)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	old := idx.snapshot.Load()
	next := &indexSnapshot{
		entries: make([]indexEntry, len(old.entries)),
		byID:    make(map[string]int, len(old.byID)+1),
	}
	copy(next.entries, old.entries)
	for id, i := range old.byID {
		next.byID[id] = i
	}

	if i, ok := next.byID[chunk.ID]; ok {
		// 覆盖已有记录，seq 不变
		next.entries[i].chunk = chunk
		next.entries[i].vector = vector
	} else {
		next.byID[chunk.ID] = len(next.entries)
		next.entries = append(next.entries, indexEntry{
			chunk:  chunk,
			vector: vector,
			seq:    idx.nextSeq,
		})
		idx.nextSeq++
	}

	idx.snapshot.Store(next)
	return nil
}

// DeleteAll 清空索引（全量重建前调用）。
func (idx *Index) DeleteAll() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snapshot.Store(&indexSnapshot{byID: map[string]int{}})
}

// Len 返回索引中的块数。
func (idx *Index) Len() int {
	return len(idx.snapshot.Load().entries)
}

// Search 检索最相关的 k 个块。空索引或 k<=0 返回空结果。
// 得分相同按插入顺序稳定排序。
func (idx *Index) Search(queryVector []float64, k int, strategy SearchStrategy) ([]RetrievalHit, error) {
	if k <= 0 {
		return nil, nil
	}
	snap := idx.snapshot.Load()
	if len(snap.entries) == 0 {
		return nil, nil
	}

	switch strategy {
	case StrategySimilarity, "":
		return topBySimilarity(snap, queryVector, k), nil
	case StrategyMMR:
		return idx.searchMMR(snap, queryVector, k), nil
	default:
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}
}

// scored 打分后的候选，携带 seq 做稳定排序。
type scored struct {
	entry indexEntry
	score float64
}

// rankAll 计算全量余弦得分并按 (score desc, seq asc) 排序。
func rankAll(snap *indexSnapshot, queryVector []float64) []scored {
	ranked := make([]scored, 0, len(snap.entries))
	for _, e := range snap.entries {
		ranked = append(ranked, scored{entry: e, score: CosineSimilarity(queryVector, e.vector)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].entry.seq < ranked[j].entry.seq
	})
	return ranked
}

func topBySimilarity(snap *indexSnapshot, queryVector []float64, k int) []RetrievalHit {
	ranked := rankAll(snap, queryVector)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	hits := make([]RetrievalHit, len(ranked))
	for i, s := range ranked {
		hits[i] = RetrievalHit{Chunk: s.entry.chunk, Score: s.score}
	}
	return hits
}

// searchMMR 先按相似度预取 fetchK 个候选，再贪心选取边际相关性
// 最大的 k 个：score = lambda*sim(q,c) - (1-lambda)*max sim(c, 已选)。
func (idx *Index) searchMMR(snap *indexSnapshot, queryVector []float64, k int) []RetrievalHit {
	fetchK := idx.mmr.FetchK
	if fetchK < k {
		fetchK = k
	}
	candidates := rankAll(snap, queryVector)
	if len(candidates) > fetchK {
		candidates = candidates[:fetchK]
	}

	lambda := idx.mmr.Lambda
	selected := make([]scored, 0, k)
	remaining := append([]scored(nil), candidates...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			redundancy := 0.0
			for _, sel := range selected {
				if sim := CosineSimilarity(cand.entry.vector, sel.entry.vector); sim > redundancy {
					redundancy = sim
				}
			}
			mmrScore := lambda*cand.score - (1-lambda)*redundancy
			// 严格大于：同分时保留更早的候选（已按 seq 排序）
			if mmrScore > bestScore {
				bestScore = mmrScore
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	hits := make([]RetrievalHit, len(selected))
	for i, s := range selected {
		hits[i] = RetrievalHit{Chunk: s.entry.chunk, Score: s.score}
	}
	return hits
}

// CosineSimilarity 余弦相似度。维度不一致或零向量时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
