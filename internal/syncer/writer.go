package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/openclaw/mongomem/internal/store"
)

// Server error codes meaning "this deployment cannot do transactions".
const (
	codeIllegalOperation  = 20
	codeNoSuchTransaction = 263
)

const txnUnsupportedMessage = "Transaction numbers are only allowed on a replica set"

// Writer performs the per-file write protocol against the files and chunks
// collections: delete old chunks, bulk-upsert new chunks, upsert metadata.
// Every operation is idempotent so a transactional retry is safe.
type Writer struct {
	client  *mongo.Client
	cols    *store.Collections
	agentID string
}

// NewWriter creates a writer. agentID scopes the meta row.
func NewWriter(client *mongo.Client, cols *store.Collections, agentID string) *Writer {
	return &Writer{client: client, cols: cols, agentID: agentID}
}

// WriteFile performs the three-step protocol without a transaction.
// Readers may observe intermediate states between the steps.
func (w *Writer) WriteFile(ctx context.Context, file store.FileDoc, chunks []store.ChunkDoc) error {
	return w.writeSteps(ctx, file, chunks)
}

// WriteFileTxn wraps the protocol in a single transaction with majority
// write concern. The driver may retry the callback, which is why the body
// is upserts plus deleteMany only.
func (w *Writer) WriteFileTxn(ctx context.Context, file store.FileDoc, chunks []store.ChunkDoc) error {
	sess, err := w.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().SetWriteConcern(writeconcern.Majority())
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, w.writeSteps(ctx, file, chunks)
	}, txnOpts)
	return err
}

func (w *Writer) writeSteps(ctx context.Context, file store.FileDoc, chunks []store.ChunkDoc) error {
	if _, err := w.cols.Chunks.DeleteMany(ctx, bson.D{{Key: "path", Value: file.Path}}); err != nil {
		return fmt.Errorf("failed to delete old chunks for %s: %w", file.Path, err)
	}

	if len(chunks) > 0 {
		models := make([]mongo.WriteModel, len(chunks))
		for i, c := range chunks {
			models[i] = mongo.NewReplaceOneModel().
				SetFilter(bson.D{{Key: "_id", Value: c.ID}}).
				SetReplacement(c).
				SetUpsert(true)
		}
		if _, err := w.cols.Chunks.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return fmt.Errorf("failed to upsert chunks for %s: %w", file.Path, err)
		}
	}

	_, err := w.cols.Files.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: file.Path}},
		file,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert file metadata for %s: %w", file.Path, err)
	}
	return nil
}

// DeleteStale removes every chunks row whose path was not seen this sync,
// then every files row likewise. Chunks go first so invariant "no chunk
// without a files row" is restored, never widened.
func (w *Writer) DeleteStale(ctx context.Context, valid map[string]struct{}) (chunksDeleted, filesDeleted int64, err error) {
	validPaths := make([]string, 0, len(valid))
	for path := range valid {
		validPaths = append(validPaths, path)
	}

	workspaceSources := bson.D{{Key: "$in", Value: bson.A{store.SourceMemory, store.SourceSessions}}}

	chunkRes, err := w.cols.Chunks.DeleteMany(ctx, bson.D{
		{Key: "source", Value: workspaceSources},
		{Key: "path", Value: bson.D{{Key: "$nin", Value: validPaths}}},
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete stale chunks: %w", err)
	}

	fileRes, err := w.cols.Files.DeleteMany(ctx, bson.D{
		{Key: "source", Value: workspaceSources},
		{Key: "_id", Value: bson.D{{Key: "$nin", Value: validPaths}}},
	})
	if err != nil {
		return chunkRes.DeletedCount, 0, fmt.Errorf("failed to delete stale files: %w", err)
	}

	return chunkRes.DeletedCount, fileRes.DeletedCount, nil
}

// TrimChunks deletes the oldest chunks of path beyond max, oldest first by
// start line. Returns the number deleted.
func (w *Writer) TrimChunks(ctx context.Context, path string, max int) (int64, error) {
	count, err := w.cols.Chunks.CountDocuments(ctx, bson.D{{Key: "path", Value: path}})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks for %s: %w", path, err)
	}
	excess := count - int64(max)
	if excess <= 0 {
		return 0, nil
	}

	cursor, err := w.cols.Chunks.Find(ctx,
		bson.D{{Key: "path", Value: path}},
		options.Find().
			SetSort(bson.D{{Key: "startLine", Value: 1}}).
			SetLimit(excess).
			SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return 0, fmt.Errorf("failed to find excess chunks for %s: %w", path, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return 0, err
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := w.cols.Chunks.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return 0, fmt.Errorf("failed to trim chunks for %s: %w", path, err)
	}
	return res.DeletedCount, nil
}

// TouchMeta records the last successful sync time on the agent's meta row.
func (w *Writer) TouchMeta(ctx context.Context, at time.Time) error {
	_, err := w.cols.Meta.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: w.agentID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "lastSyncAt", Value: at}}}},
		options.UpdateOne().SetUpsert(true))
	return err
}

// isTxnUnsupported matches the rejections a standalone server raises for
// transactional writes.
func isTxnUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(codeIllegalOperation) ||
			se.HasErrorCode(codeNoSuchTransaction) ||
			se.HasErrorMessage(txnUnsupportedMessage)
	}
	return false
}
