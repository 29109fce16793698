package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wengyuechuan/rag-backend/internal/logger"
)

// Triple 写入图数据库的三元组
type Triple struct {
	Subject     string
	SubjectType string
	Predicate   string
	Object      string
	ObjectType  string
}

// BatchResult 批量写入统计
type BatchResult struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// GraphStore 基于RedisGraph/FalkorDB协议的知识图谱存储
type GraphStore struct {
	client *redis.Client
	graph  string
}

// NewGraphStore 连接图数据库并校验连通性
func NewGraphStore(addr, graphName string) (*GraphStore, error) {
	if graphName == "" {
		graphName = "knowledge_graph"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to graph store: %w", err)
	}

	return &GraphStore{client: client, graph: graphName}, nil
}

// InsertTriplesBatch 分批写入三元组，单条失败不中断，计入failed
func (g *GraphStore) InsertTriplesBatch(ctx context.Context, triples []Triple, batchSize int) (BatchResult, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	result := BatchResult{Total: len(triples)}
	for start := 0; start < len(triples); start += batchSize {
		end := start + batchSize
		if end > len(triples) {
			end = len(triples)
		}

		for _, triple := range triples[start:end] {
			if err := g.insertTriple(ctx, triple); err != nil {
				result.Failed++
				logger.Warn("三元组写入失败",
					zap.String("subject", triple.Subject),
					zap.String("predicate", triple.Predicate),
					zap.String("object", triple.Object),
					zap.Error(err))
				continue
			}
			result.Success++
		}
	}
	return result, nil
}

func (g *GraphStore) insertTriple(ctx context.Context, triple Triple) error {
	if triple.Subject == "" || triple.Predicate == "" || triple.Object == "" {
		return fmt.Errorf("triple has empty field")
	}
	query := buildTripleQuery(triple)
	return g.client.Do(ctx, "GRAPH.QUERY", g.graph, query, "--compact").Err()
}

// buildTripleQuery 生成MERGE语句，节点按名字去重，关系类型存在属性上
func buildTripleQuery(triple Triple) string {
	return fmt.Sprintf(
		`MERGE (s:Entity {name: '%s'}) SET s.label = '%s' `+
			`MERGE (o:Entity {name: '%s'}) SET o.label = '%s' `+
			`MERGE (s)-[r:RELATES]->(o) SET r.type = '%s'`,
		escapeCypher(triple.Subject), escapeCypher(orDefault(triple.SubjectType)),
		escapeCypher(triple.Object), escapeCypher(orDefault(triple.ObjectType)),
		escapeCypher(triple.Predicate),
	)
}

// QueryNeighbors 查询实体的一跳邻居名称
func (g *GraphStore) QueryNeighbors(ctx context.Context, name string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(
		`MATCH (s:Entity {name: '%s'})-[]-(o:Entity) RETURN o.name LIMIT %d`,
		escapeCypher(name), limit)

	raw, err := g.client.Do(ctx, "GRAPH.QUERY", g.graph, query).Result()
	if err != nil {
		return nil, err
	}
	return parseNameColumn(raw), nil
}

// parseNameColumn 从GRAPH.QUERY应答中取第一列字符串
func parseNameColumn(raw interface{}) []string {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) < 2 {
		return nil
	}
	rows, ok := reply[1].([]interface{})
	if !ok {
		return nil
	}

	var names []string
	for _, row := range rows {
		cols, ok := row.([]interface{})
		if !ok || len(cols) == 0 {
			continue
		}
		if name, ok := cols[0].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Clear 清空整张图
func (g *GraphStore) Clear(ctx context.Context) error {
	return g.client.Do(ctx, "GRAPH.QUERY", g.graph, "MATCH (n) DETACH DELETE n").Err()
}

// Close 关闭连接
func (g *GraphStore) Close() error {
	return g.client.Close()
}

func escapeCypher(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
