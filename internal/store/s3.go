package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

// S3Config contains S3-compatible object storage settings.
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// IsConfigured reports whether the bucket and credentials are set.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// S3 stores each row as a JSON object under
// <prefix>rooms/<room>/<table>/<created-at>-<id>.json. Keys sort by creation
// time, so a prefix listing is already in arrival order.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// NewS3 returns an S3 backed store.
func NewS3(cfg *S3Config) (*S3, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("S3 is not configured")
	}
	return &S3{
		client: createS3Client(cfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// roomPrefix returns the key prefix for one table of a room.
func (s *S3) roomPrefix(room, table string) string {
	return s.prefix + path.Join("rooms", url.PathEscape(room), table) + "/"
}

// objectKey returns the key for a row. The zero padded nanosecond timestamp
// keeps lexical and chronological order equal.
func objectKey(prefix string, createdNano int64, id string) string {
	return fmt.Sprintf("%s%020d-%s.json", prefix, createdNano, url.PathEscape(id))
}

func (s *S3) put(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	return err
}

// InsertBlow stores ev.
func (s *S3) InsertBlow(ctx context.Context, ev *types.BlowEvent) error {
	if err := PrepareBlow(ev); err != nil {
		return err
	}
	key := objectKey(s.roomPrefix(ev.Room, "blows"), ev.CreatedAt.UnixNano(), ev.ID)
	if err := s.put(ctx, key, ev); err != nil {
		return util.WrapError("upload blow", err)
	}
	return nil
}

// BlowsByRoom returns the room's blow events, newest first.
func (s *S3) BlowsByRoom(ctx context.Context, room string) ([]types.BlowEvent, error) {
	events, err := listRows[types.BlowEvent](ctx, s, s.roomPrefix(room, "blows"))
	if err != nil {
		return nil, util.WrapError("list blows", err)
	}
	return events, nil
}

// InsertEntry stores e.
func (s *S3) InsertEntry(ctx context.Context, e *types.GuestbookEntry) error {
	if err := PrepareEntry(e); err != nil {
		return err
	}
	key := objectKey(s.roomPrefix(e.Room, "guestbook"), e.CreatedAt.UnixNano(), e.ID)
	if err := s.put(ctx, key, e); err != nil {
		return util.WrapError("upload guestbook entry", err)
	}
	return nil
}

// EntriesByRoom returns the room's guestbook entries, newest first.
func (s *S3) EntriesByRoom(ctx context.Context, room string) ([]types.GuestbookEntry, error) {
	entries, err := listRows[types.GuestbookEntry](ctx, s, s.roomPrefix(room, "guestbook"))
	if err != nil {
		return nil, util.WrapError("list guestbook", err)
	}
	return entries, nil
}

// InsertMessage stores msg.
func (s *S3) InsertMessage(ctx context.Context, msg *types.Message) error {
	if err := PrepareMessage(msg); err != nil {
		return err
	}
	key := objectKey(s.roomPrefix(msg.Room, "messages"), msg.CreatedAt.UnixNano(), msg.ID)
	if err := s.put(ctx, key, msg); err != nil {
		return util.WrapError("upload message", err)
	}
	return nil
}

// MessagesByRoom returns the room's board messages, newest first.
func (s *S3) MessagesByRoom(ctx context.Context, room string) ([]types.Message, error) {
	messages, err := listRows[types.Message](ctx, s, s.roomPrefix(room, "messages"))
	if err != nil {
		return nil, util.WrapError("list messages", err)
	}
	return messages, nil
}

// DeleteMessage removes the message with id from room. The object key holds
// the creation time, so the room's messages are listed to find it.
func (s *S3) DeleteMessage(ctx context.Context, room, id string) error {
	keys, err := listKeys(ctx, s, s.roomPrefix(room, "messages"))
	if err != nil {
		return util.WrapError("list messages", err)
	}
	suffix := "-" + url.PathEscape(id) + ".json"
	i := slices.IndexFunc(keys, func(key string) bool { return strings.HasSuffix(key, suffix) })
	if i < 0 {
		return ErrMessageNotFound
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keys[i]),
	})
	if err != nil {
		return util.WrapError("delete message", err)
	}
	return nil
}

// Close is a no-op.
func (s *S3) Close() error {
	return nil
}

// listKeys returns the row keys under prefix in arrival order.
func listKeys(ctx context.Context, s *S3, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); strings.HasSuffix(key, ".json") {
				keys = append(keys, key)
			}
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// listRows downloads every object under prefix and returns them newest first.
func listRows[T any](ctx context.Context, s *S3, prefix string) ([]T, error) {
	keys, err := listKeys(ctx, s, prefix)
	if err != nil {
		return nil, err
	}

	rows := make([]T, 0, len(keys))
	for _, key := range slices.Backward(keys) {
		row, err := getRow[T](ctx, s, key)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func getRow[T any](ctx context.Context, s *S3, key string) (T, error) {
	var row T
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return row, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close() //nolint:errcheck // Read-only body

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return row, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("decode %s: %w", key, err)
	}
	return row, nil
}

// TestS3Connection checks the bucket is reachable by listing one key.
func TestS3Connection(ctx context.Context, cfg *S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("S3 is not configured")
	}
	client := createS3Client(cfg)
	_, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(cfg.Bucket),
		Prefix:  aws.String(cfg.Prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return util.WrapError("list bucket", err)
	}
	return nil
}
