package search

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/openclaw/mongomem/internal/store"
)

// resultProjection strips the embedding vector from returned documents.
var resultProjection = bson.D{{Key: "$project", Value: bson.D{
	{Key: "embedding", Value: 0},
}}}

// sourceFilter maps a session-key sentinel to a source restriction.
// Returns nil when no restriction applies.
func sourceFilter(sessionKey string) bson.D {
	switch sessionKey {
	case SessionKeyMemory:
		return bson.D{{Key: "source", Value: store.SourceMemory}}
	case SessionKeySessions:
		return bson.D{{Key: "source", Value: store.SourceSessions}}
	default:
		return nil
	}
}

// vectorStage builds the $vectorSearch stage. In managed mode queryVector
// carries the embedded query; in automated mode the raw query text is
// passed for in-engine embedding.
func (d *Dispatcher) vectorStage(query string, queryVector []float32, limit int, filter bson.D) bson.D {
	numCandidates := d.cfg.NumCandidates
	if numCandidates > 10000 {
		numCandidates = 10000
	}
	if numCandidates < limit {
		numCandidates = limit
	}

	body := bson.D{
		{Key: "index", Value: d.cfg.VectorIndex},
		{Key: "path", Value: "embedding"},
		{Key: "numCandidates", Value: numCandidates},
		{Key: "limit", Value: limit},
	}
	if queryVector != nil {
		body = append(body, bson.E{Key: "queryVector", Value: queryVector})
	} else {
		body = append(body, bson.E{Key: "query", Value: query})
	}
	if filter != nil {
		body = append(body, bson.E{Key: "filter", Value: filter})
	}
	return bson.D{{Key: "$vectorSearch", Value: body}}
}

// searchStage builds the mongot $search text stage.
func (d *Dispatcher) searchStage(query string) bson.D {
	return bson.D{{Key: "$search", Value: bson.D{
		{Key: "index", Value: d.cfg.SearchIndex},
		{Key: "text", Value: bson.D{
			{Key: "query", Value: query},
			{Key: "path", Value: "text"},
		}},
	}}}
}

// vectorPipeline is the standalone vector strategy.
func (d *Dispatcher) vectorPipeline(query string, queryVector []float32, limit int, filter bson.D) mongo.Pipeline {
	return mongo.Pipeline{
		d.vectorStage(query, queryVector, limit, filter),
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
		resultProjection,
	}
}

// textPipeline is the standalone mongot text strategy.
func (d *Dispatcher) textPipeline(query string, limit int, filter bson.D) mongo.Pipeline {
	p := mongo.Pipeline{d.searchStage(query)}
	if filter != nil {
		p = append(p, bson.D{{Key: "$match", Value: filter}})
	}
	p = append(p,
		bson.D{{Key: "$limit", Value: limit}},
		bson.D{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "searchScore"}}},
		}}},
		resultProjection,
	)
	return p
}

// scoreFusionPipeline runs vector and text sub-pipelines in one
// server-side $scoreFusion stage with sigmoid normalisation and
// weighted-average combination.
func (d *Dispatcher) scoreFusionPipeline(query string, queryVector []float32, limit int, filter bson.D) mongo.Pipeline {
	sub := d.fusionSubPipelines(query, queryVector, limit, filter)
	return mongo.Pipeline{
		{{Key: "$scoreFusion", Value: bson.D{
			{Key: "input", Value: bson.D{
				{Key: "pipelines", Value: sub},
				{Key: "normalization", Value: "sigmoid"},
			}},
			{Key: "combination", Value: bson.D{
				{Key: "method", Value: "avg"},
				{Key: "weights", Value: bson.D{
					{Key: "vector", Value: d.cfg.Weights.Vector},
					{Key: "text", Value: d.cfg.Weights.Text},
				}},
			}},
		}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "score"}}},
		}}},
		resultProjection,
	}
}

// rankFusionPipeline runs the same sub-pipelines under server-side
// reciprocal-rank fusion.
func (d *Dispatcher) rankFusionPipeline(query string, queryVector []float32, limit int, filter bson.D) mongo.Pipeline {
	sub := d.fusionSubPipelines(query, queryVector, limit, filter)
	return mongo.Pipeline{
		{{Key: "$rankFusion", Value: bson.D{
			{Key: "input", Value: bson.D{{Key: "pipelines", Value: sub}}},
			{Key: "combination", Value: bson.D{
				{Key: "weights", Value: bson.D{
					{Key: "vector", Value: d.cfg.Weights.Vector},
					{Key: "text", Value: d.cfg.Weights.Text},
				}},
			}},
		}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "score"}}},
		}}},
		resultProjection,
	}
}

func (d *Dispatcher) fusionSubPipelines(query string, queryVector []float32, limit int, filter bson.D) bson.D {
	textSub := bson.A{d.searchStage(query)}
	if filter != nil {
		textSub = append(textSub, bson.D{{Key: "$match", Value: filter}})
	}
	textSub = append(textSub, bson.D{{Key: "$limit", Value: limit}})

	return bson.D{
		{Key: "vector", Value: bson.A{d.vectorStage(query, queryVector, limit, filter)}},
		{Key: "text", Value: textSub},
	}
}

// legacyTextPipeline is the last-resort strategy: the standard $text index,
// ordered by text score. Works on every topology tier.
func (d *Dispatcher) legacyTextPipeline(query string, limit int, filter bson.D) mongo.Pipeline {
	match := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: query}}}}
	match = append(match, filter...)
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "score", Value: -1}}}},
		{{Key: "$limit", Value: limit}},
		resultProjection,
	}
}
