package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"crmflow/internal/constants"
)

// Indexes lists the indexes each collection needs. The unique e-mail index
// backs the customer conflict rule; the communication log index serves the
// campaign drain loop's keyset paging.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		constants.CustomersCollection: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("idx_customers_email").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "totalSpend", Value: -1}},
				Options: options.Index().SetName("idx_customers_total_spend"),
			},
			{
				Keys:    bson.D{{Key: "lastPurchaseDate", Value: -1}},
				Options: options.Index().SetName("idx_customers_last_purchase_date"),
			},
		},
		constants.OrdersCollection: {
			{
				Keys:    bson.D{{Key: "customerId", Value: 1}, {Key: "orderDate", Value: -1}},
				Options: options.Index().SetName("idx_orders_customer_date"),
			},
		},
		constants.CommunicationsCollection: {
			{
				Keys:    bson.D{{Key: "campaignId", Value: 1}, {Key: "status", Value: 1}, {Key: "_id", Value: 1}},
				Options: options.Index().SetName("idx_communication_logs_campaign_status_id"),
			},
		},
		constants.CampaignsCollection: {
			{
				Keys:    bson.D{{Key: "createdAt", Value: -1}},
				Options: options.Index().SetName("idx_campaigns_created_at"),
			},
		},
	}
}

// EnsureIndexes creates every index in Indexes. Re-running it is a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for collection, indexes := range Indexes() {
		_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection, err)
		}
	}
	return nil
}
