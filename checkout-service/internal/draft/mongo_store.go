package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists drafts. Consumers depend on this, not on the MongoDB implementation.
type Store interface {
	Get(ctx context.Context, id string) (*Draft, error)
	Save(ctx context.Context, d *Draft) error
	Delete(ctx context.Context, id string) error
	MarkCheckedOut(ctx context.Context, id, orderID string) error
}

// draftDocument is the stored shape. Money is kept as decimal strings.
type draftDocument struct {
	ID         string         `bson:"_id"`
	CustomerID string         `bson:"customer_id,omitempty"`
	IsWalkIn   bool           `bson:"is_walk_in"`
	Lines      []lineDocument `bson:"lines"`
	Note       string         `bson:"note,omitempty"`
	OrderID    string         `bson:"order_id,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

type lineDocument struct {
	ServiceID string `bson:"service_id"`
	Name      string `bson:"name,omitempty"`
	StaffID   string `bson:"staff_id,omitempty"`
	Quantity  int    `bson:"quantity"`
	Price     string `bson:"price,omitempty"`
	Discount  string `bson:"discount"`
}

type mongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{
		collection: db.Collection("quick_sale_drafts"),
	}
}

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(20)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

func (m *mongoStore) Get(ctx context.Context, id string) (*Draft, error) {
	var doc draftDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDraftNotFound
		}
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return fromDocument(doc)
}

func (m *mongoStore) Save(ctx context.Context, d *Draft) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	doc := toDocument(d)
	filter := bson.M{"_id": d.ID, "order_id": bson.M{"$exists": false}}
	update := bson.M{
		"$set": bson.M{
			"customer_id": doc.CustomerID,
			"is_walk_in":  doc.IsWalkIn,
			"lines":       doc.Lines,
			"note":        doc.Note,
			"updated_at":  doc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
	}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// the filter missed because order_id is set, and the upsert hit the same _id
		return ErrAlreadyCheckout
	}
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

func (m *mongoStore) Delete(ctx context.Context, id string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrDraftNotFound
	}

	return nil
}

// MarkCheckedOut records the order a draft became. A draft is only checked out once.
func (m *mongoStore) MarkCheckedOut(ctx context.Context, id, orderID string) error {
	filter := bson.M{"_id": id, "order_id": bson.M{"$exists": false}}
	update := bson.M{
		"$set": bson.M{
			"order_id":   orderID,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark draft checked out: %w", err)
	}

	if result.MatchedCount == 0 {
		if _, err := m.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyCheckout
	}
	return nil
}

func (m *mongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "customer_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(7 * 24 * 60 * 60), // 7 days TTL
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// CreateIndexes sets up the draft collection indexes on stores built by NewMongoStore.
func CreateIndexes(ctx context.Context, s Store) error {
	ms, ok := s.(*mongoStore)
	if !ok {
		return nil
	}
	return ms.CreateIndexes(ctx)
}

func toDocument(d *Draft) draftDocument {
	doc := draftDocument{
		ID:         d.ID,
		CustomerID: d.CustomerID,
		IsWalkIn:   d.IsWalkIn,
		Lines:      make([]lineDocument, 0, len(d.Lines)),
		Note:       d.Note,
		OrderID:    d.OrderID,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	for _, l := range d.Lines {
		ld := lineDocument{
			ServiceID: l.ServiceID,
			Name:      l.Name,
			StaffID:   l.StaffID,
			Quantity:  l.Quantity,
			Discount:  l.Discount.String(),
		}
		if l.Price != nil {
			ld.Price = l.Price.String()
		}
		doc.Lines = append(doc.Lines, ld)
	}
	return doc
}

func fromDocument(doc draftDocument) (*Draft, error) {
	d := &Draft{
		ID:         doc.ID,
		CustomerID: doc.CustomerID,
		IsWalkIn:   doc.IsWalkIn,
		Lines:      make([]Line, 0, len(doc.Lines)),
		Note:       doc.Note,
		OrderID:    doc.OrderID,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
	for _, ld := range doc.Lines {
		l := Line{
			ServiceID: ld.ServiceID,
			Name:      ld.Name,
			StaffID:   ld.StaffID,
			Quantity:  ld.Quantity,
		}
		if ld.Price != "" {
			p, err := decimal.NewFromString(ld.Price)
			if err != nil {
				return nil, fmt.Errorf("draft %s: invalid price %q: %w", doc.ID, ld.Price, err)
			}
			l.Price = &p
		}
		if ld.Discount != "" {
			disc, err := decimal.NewFromString(ld.Discount)
			if err != nil {
				return nil, fmt.Errorf("draft %s: invalid discount %q: %w", doc.ID, ld.Discount, err)
			}
			l.Discount = disc
		}
		d.Lines = append(d.Lines, l)
	}
	return d, nil
}
