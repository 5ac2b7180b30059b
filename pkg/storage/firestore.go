package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore. All
// documents live under sites/{siteID} and store their payload as a JSON
// string in the "json" field.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	siteID    string
}

var _ Database = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	siteID := lflag.String("site-id", "default", "ID of the charging site the data belongs to")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.siteID = *siteID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.siteID == "" {
		return fmt.Errorf("site-id cannot be empty")
	}
	if strings.Contains(f.siteID, "/") {
		return fmt.Errorf("site-id cannot contain '/'")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection("sites").Doc(f.siteID).Collection(name)
}

func odometerDocID(key string) string {
	return strings.ReplaceAll(key, "/", "_")
}

// GetSettings retrieves the settings from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	// Read version if available (default 0)
	var version int
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	var s types.Settings
	if err := decodeJSONField(doc, &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid settings doc", slog.String("siteID", f.siteID), slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the settings to the "config/settings" document.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// LoadOdometer reads the series stored for key from the "odometer"
// collection.
func (f *FirestoreProvider) LoadOdometer(ctx context.Context, key string) ([]types.OdometerSample, error) {
	doc, err := f.collection("odometer").Doc(odometerDocID(key)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch odometer doc: %w", err)
	}

	var samples []types.OdometerSample
	if err := decodeJSONField(doc, &samples); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid odometer doc", slog.String("key", key), slog.Any("err", err))
		return nil, fmt.Errorf("failed to decode odometer (key=%s): %w", key, err)
	}
	return samples, nil
}

// SaveOdometer replaces the series stored for key.
func (f *FirestoreProvider) SaveOdometer(ctx context.Context, key string, samples []types.OdometerSample) error {
	jsonBytes, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("failed to marshal odometer: %w", err)
	}
	data := map[string]interface{}{
		"json":    string(jsonBytes),
		"key":     key,
		"count":   len(samples),
		"updated": time.Now(),
	}
	if len(samples) > 0 {
		data["lastTimestamp"] = samples[len(samples)-1].TS
	}
	if _, err := f.collection("odometer").Doc(odometerDocID(key)).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to save odometer: %w", err)
	}
	return nil
}

// RemoveOdometer deletes the series stored for key.
func (f *FirestoreProvider) RemoveOdometer(ctx context.Context, key string) error {
	if _, err := f.collection("odometer").Doc(odometerDocID(key)).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to remove odometer: %w", err)
	}
	return nil
}

// ListOdometerKeys returns the keys of all stored series.
func (f *FirestoreProvider) ListOdometerKeys(ctx context.Context) ([]string, error) {
	iter := f.collection("odometer").OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var keys []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating odometer docs: %w", err)
		}
		key := doc.Ref.ID
		if v, err := doc.DataAt("key"); err == nil {
			if s, ok := v.(string); ok && s != "" {
				key = s
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func decodeJSONField(doc *firestore.DocumentSnapshot, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}
