// Package tips: mongo.go is the document-database ledger backend
// (LEDGER_BACKEND=mongo). Single-document updates are atomic in MongoDB,
// so the payout compare-and-set is an UpdateOne filtered on the expected status.
package tips

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionTips is the collection holding tip documents.
const CollectionTips = "tips"

type tipDocument struct {
	ID                string     `bson:"_id"`
	TipperID          string     `bson:"tipper_id"`
	TipperName        string     `bson:"tipper_name"`
	BroadcasterID     string     `bson:"broadcaster_id"`
	PendingEmail      string     `bson:"pending_email,omitempty"`
	ShowID            string     `bson:"show_id"`
	Message           string     `bson:"message,omitempty"`
	TipAmount         int64      `bson:"tip_amount"`
	PlatformFee       int64      `bson:"platform_fee"`
	TotalAmount       int64      `bson:"total_amount"`
	Currency          string     `bson:"currency"`
	PaymentStatus     string     `bson:"payment_status"`
	PayoutStatus      string     `bson:"payout_status"`
	CheckoutSessionID string     `bson:"checkout_session_id,omitempty"`
	PaymentIntentID   string     `bson:"payment_intent_id,omitempty"`
	TransferID        string     `bson:"transfer_id,omitempty"`
	FailureReason     string     `bson:"failure_reason,omitempty"`
	FailureCount      int        `bson:"failure_count"`
	TransferredAt     *time.Time `bson:"transferred_at,omitempty"`
	ReallocatedAt     *time.Time `bson:"reallocated_at,omitempty"`
	CreatedAt         time.Time  `bson:"created_at"`
	UpdatedAt         time.Time  `bson:"updated_at"`
}

func toDocument(t *Tip) tipDocument {
	return tipDocument{
		ID:                t.ID,
		TipperID:          t.Tipper.storageID(),
		TipperName:        t.Tipper.DisplayName,
		BroadcasterID:     t.Broadcaster.storageID(),
		PendingEmail:      t.Broadcaster.Email(),
		ShowID:            t.ShowID,
		Message:           t.Message,
		TipAmount:         t.TipAmount,
		PlatformFee:       t.PlatformFee,
		TotalAmount:       t.Total,
		Currency:          t.Currency,
		PaymentStatus:     string(t.PaymentStatus),
		PayoutStatus:      string(t.PayoutStatus),
		CheckoutSessionID: t.CheckoutSessionID,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.CreatedAt,
	}
}

func (d tipDocument) toTip() *Tip {
	return &Tip{
		ID:                d.ID,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		Tipper:            tipperFromStorage(d.TipperID, d.TipperName),
		Broadcaster:       refFromStorage(d.BroadcasterID, d.PendingEmail),
		ShowID:            d.ShowID,
		Message:           d.Message,
		TipAmount:         d.TipAmount,
		PlatformFee:       d.PlatformFee,
		Total:             d.TotalAmount,
		Currency:          d.Currency,
		PaymentStatus:     PaymentStatus(d.PaymentStatus),
		PayoutStatus:      PayoutStatus(d.PayoutStatus),
		CheckoutSessionID: d.CheckoutSessionID,
		PaymentIntentID:   d.PaymentIntentID,
		TransferID:        d.TransferID,
		FailureReason:     d.FailureReason,
		FailureCount:      d.FailureCount,
		TransferredAt:     d.TransferredAt,
		ReallocatedAt:     d.ReallocatedAt,
	}
}

// MongoRepository stores tips as documents.
type MongoRepository struct {
	col *mongo.Collection
}

// NewMongoRepository creates the Mongo ledger on db.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{col: db.Collection(CollectionTips)}
}

// EnsureIndexes creates the indexes the sweeps rely on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "payout_status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "broadcaster_id", Value: 1}, {Key: "payout_status", Value: 1}}},
		{Keys: bson.D{{Key: "pending_email", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create tip indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, t *Tip) (string, error) {
	if err := validateNew(t); err != nil {
		return "", err
	}
	doc := toDocument(t)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
		doc.UpdatedAt = doc.CreatedAt
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return t.ID, nil
		}
		return "", fmt.Errorf("failed to create tip: %w", err)
	}
	return t.ID, nil
}

func (r *MongoRepository) Get(ctx context.Context, id string) (*Tip, error) {
	var doc tipDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("failed to read tip (id=%s): %w", id, err)
	}
	return doc.toTip(), nil
}

func (r *MongoRepository) FindByPayoutStatus(ctx context.Context, status PayoutStatus, f Filter) ([]*Tip, error) {
	filter := bson.M{"payout_status": string(status)}
	if f.BroadcasterID != "" {
		filter["broadcaster_id"] = f.BroadcasterID
	}
	if f.PendingEmail != "" {
		filter["broadcaster_id"] = pendingBroadcasterSentinel
		filter["pending_email"] = f.PendingEmail
	}
	if f.PaymentStatus != "" {
		filter["payment_status"] = string(f.PaymentStatus)
	}
	if !f.ReallocatedSince.IsZero() {
		filter["reallocated_at"] = bson.M{"$gte": f.ReallocatedSince}
	}
	if !f.CreatedBefore.IsZero() {
		filter["created_at"] = bson.M{"$lt": f.CreatedBefore}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query tips (status=%s): %w", status, err)
	}
	var docs []tipDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tips: %w", err)
	}
	out := make([]*Tip, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTip())
	}
	return out, nil
}

func (r *MongoRepository) CompareAndSetPayoutStatus(ctx context.Context, id string, expected, next PayoutStatus, tr Transition) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}
	set := bson.M{"payout_status": string(next), "updated_at": time.Now().UTC()}
	update := bson.M{"$set": set}
	switch next {
	case PayoutTransferred:
		set["transfer_id"] = tr.TransferID
		set["transferred_at"] = tr.TransferredAt
	case PayoutReallocatedToPool:
		set["reallocated_at"] = tr.ReallocatedAt
	case PayoutFailed:
		set["failure_reason"] = tr.FailureReason
		update["$inc"] = bson.M{"failure_count": 1}
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "payout_status": string(expected)},
		update,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payout status (id=%s): %w", id, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *MongoRepository) SetPaymentStatus(ctx context.Context, id string, next PaymentStatus, paymentIntentID string) (bool, error) {
	if !canSetPayment(PaymentPending, next) {
		return false, fmt.Errorf("invalid payment status %q", next)
	}
	set := bson.M{"payment_status": string(next), "updated_at": time.Now().UTC()}
	if paymentIntentID != "" {
		set["payment_intent_id"] = paymentIntentID
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "payment_status": string(PaymentPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status (id=%s): %w", id, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *MongoRepository) BindBroadcaster(ctx context.Context, id, broadcasterID string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": id, "broadcaster_id": pendingBroadcasterSentinel},
		bson.M{"$set": bson.M{"broadcaster_id": broadcasterID, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to bind broadcaster (id=%s): %w", id, err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	return false, r.ensureExists(ctx, id)
}

func (r *MongoRepository) ensureExists(ctx context.Context, id string) error {
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("failed to check tip (id=%s): %w", id, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}
