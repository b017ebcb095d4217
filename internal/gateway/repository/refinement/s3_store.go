package refinement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"refinery/internal/types"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// rollbackTimeout bounds the cleanup of a partially written record.
const rollbackTimeout = 10 * time.Second

// S3Store writes one JSON object per revision under
// inputs/<input>/<inverted-ts>-<id>.json and a copy under
// users/<user>/<inverted-ts>-<id>.json. The inverted timestamp makes a
// plain lexical listing return the newest record first.
type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	initMu     sync.Mutex
	bucketOK   bool
	now        func() time.Time
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
		now:        time.Now,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.bucketOK {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.bucketOK = true
	return nil
}

func (s *S3Store) Save(ctx context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.Record{}, fmt.Errorf("user_id is required")
	}
	rec := types.Record{
		ID:        newID(),
		InputID:   newID(),
		UserID:    userID,
		RawText:   rawText,
		Result:    result,
		CreatedAt: s.now().UTC(),
	}
	if err := s.put(ctx, rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

func (s *S3Store) AppendRevision(ctx context.Context, inputID string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	inputID = strings.TrimSpace(inputID)
	if inputID == "" {
		return types.Record{}, fmt.Errorf("input_id is required")
	}
	latest, err := s.list(ctx, inputPrefix(inputID), 1)
	if err != nil {
		return types.Record{}, err
	}
	if len(latest) == 0 {
		return types.Record{}, ErrNotFound
	}
	rec := types.Record{
		ID:        newID(),
		InputID:   inputID,
		UserID:    latest[0].UserID,
		RawText:   latest[0].RawText,
		Result:    result,
		CreatedAt: s.now().UTC(),
	}
	if err := s.put(ctx, rec); err != nil {
		return types.Record{}, err
	}
	return rec, nil
}

func (s *S3Store) History(ctx context.Context, userID string, limit int) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	return s.list(ctx, userPrefix(strings.TrimSpace(userID)), NormalizeLimit(limit))
}

func (s *S3Store) Revisions(ctx context.Context, inputID string) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	out, err := s.list(ctx, inputPrefix(strings.TrimSpace(inputID)), 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *S3Store) put(ctx context.Context, rec types.Record) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	// The inputs/ copy goes first: AppendRevision and Revisions read it, so a
	// record is only visible in History once both objects exist.
	name := objectName(rec)
	keys := []string{inputPrefix(rec.InputID) + name, userPrefix(rec.UserID) + name}
	for i, key := range keys {
		_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
		if err != nil {
			err = fmt.Errorf("put %s: %w", key, err)
			return errors.Join(err, s.remove(ctx, keys[:i]))
		}
	}
	return nil
}

// remove deletes already written keys after a failed put. It runs detached
// from ctx so a canceled request still cleans up after itself.
func (s *S3Store) remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	var errs []error
	for _, key := range keys {
		if err := s.client.RemoveObject(rmCtx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// list reads up to limit records under prefix in key order; limit <= 0 reads all.
func (s *S3Store) list(ctx context.Context, prefix string, limit int) ([]types.Record, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make([]string, 0, 16)
	for obj := range s.client.ListObjects(listCtx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		keys = append(keys, obj.Key)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}

	out := make([]types.Record, 0, len(keys))
	for _, key := range keys {
		rec, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *S3Store) get(ctx context.Context, key string) (types.Record, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return types.Record{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return types.Record{}, ErrNotFound
		}
		return types.Record{}, err
	}
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

func userPrefix(userID string) string {
	return "users/" + url.PathEscape(userID) + "/"
}

func inputPrefix(inputID string) string {
	return "inputs/" + url.PathEscape(inputID) + "/"
}

// objectName sorts newest first: the nanosecond timestamp is subtracted from
// MaxInt64 and zero padded.
func objectName(rec types.Record) string {
	inverted := math.MaxInt64 - rec.CreatedAt.UnixNano()
	return fmt.Sprintf("%019d-%s.json", inverted, rec.ID)
}
