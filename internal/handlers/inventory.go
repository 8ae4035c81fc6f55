package handlers

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"storefront/internal/models"
)

// decrementInventory atomically takes qty units of stock for an order line.
// The filter refuses the update when available would go negative, so two
// concurrent checkouts cannot both take the last unit: the loser sees
// MatchedCount == 0 and surfaces it as an ordinary stock failure.
func decrementInventory(ctx context.Context, db *mongo.Database, item models.OrderItem) error {
	var filter, update bson.M

	if item.VariantID != nil {
		filter = bson.M{
			"_id":       item.ProductID,
			"isDeleted": bson.M{"$ne": true},
			"isActive":  true,
			"variants": bson.M{"$elemMatch": bson.M{
				"id":                  *item.VariantID,
				"inventory.available": bson.M{"$gte": item.Quantity},
			}},
		}
		update = bson.M{"$inc": bson.M{
			"variants.$.inventory.quantity":  -item.Quantity,
			"variants.$.inventory.available": -item.Quantity,
		}}
	} else {
		filter = bson.M{
			"_id":                 item.ProductID,
			"isDeleted":           bson.M{"$ne": true},
			"isActive":            true,
			"inventory.available": bson.M{"$gte": item.Quantity},
		}
		update = bson.M{"$inc": bson.M{
			"inventory.quantity":  -item.Quantity,
			"inventory.available": -item.Quantity,
		}}
	}

	res, err := db.Collection("products").UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return insufficientStockError{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Requested: item.Quantity,
		}
	}
	return nil
}

// restoreInventory returns an order line's units to stock after a
// cancellation. No availability guard: restores always apply.
func restoreInventory(ctx context.Context, db *mongo.Database, item models.OrderItem) error {
	var filter, update bson.M

	if item.VariantID != nil {
		filter = bson.M{
			"_id":      item.ProductID,
			"variants": bson.M{"$elemMatch": bson.M{"id": *item.VariantID}},
		}
		update = bson.M{"$inc": bson.M{
			"variants.$.inventory.quantity":  item.Quantity,
			"variants.$.inventory.available": item.Quantity,
		}}
	} else {
		filter = bson.M{"_id": item.ProductID}
		update = bson.M{"$inc": bson.M{
			"inventory.quantity":  item.Quantity,
			"inventory.available": item.Quantity,
		}}
	}

	_, err := db.Collection("products").UpdateOne(ctx, filter, update)
	return err
}
