package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/handlers"
	"storefront/internal/middleware"
	"storefront/internal/payments"
)

func main() {
	config.Load()

	client, err := database.Connect(config.AppEnv.MongoURI)
	if err != nil {
		log.Fatal(err)
	}

	db := client.Database(config.AppEnv.DBName)

	log.Println("MongoDB connected to:", db.Name())

	if err := database.EnsureProductIndexes(db); err != nil {
		log.Printf("⚠️ product index warning: %v", err)
	}
	if err := database.EnsureCartIndexes(db); err != nil {
		log.Printf("⚠️ cart index warning: %v", err)
	}
	if err := database.EnsureOrderIndexes(db); err != nil {
		log.Printf("⚠️ order index warning: %v", err)
	}
	if err := database.EnsureCouponIndexes(db); err != nil {
		log.Printf("⚠️ coupon index warning: %v", err)
	}

	processor := payments.NewClient(config.AppEnv.PaymentBaseURL, config.AppEnv.PaymentAPIKey)

	r := gin.Default()

	r.GET("/products", handlers.GetProducts(db))
	r.GET("/products/:id", handlers.GetProduct(db))

	// Raw signed body from the processor; signature verified in the handler.
	r.POST("/payments/webhook", handlers.PaymentWebhook(db, config.AppEnv.PaymentWebhookSecret))

	user := r.Group("")
	user.Use(middleware.UserAuth(config.AppEnv.JWTSecret))
	{
		user.GET("/cart", handlers.GetCart(db))
		user.POST("/cart/add", handlers.AddCartItem(db))
		user.PUT("/cart/items/:itemId", handlers.UpdateCartItem(db))
		user.DELETE("/cart/items/:itemId", handlers.RemoveCartItem(db))
		user.DELETE("/cart", handlers.ClearCart(db))
		user.POST("/cart/coupon/apply", handlers.ApplyCoupon(db))
		user.DELETE("/cart/coupon", handlers.RemoveCoupon(db))

		user.POST("/orders", handlers.Checkout(db))
		user.GET("/orders", handlers.GetOrders(db))
		user.GET("/orders/:id", handlers.GetOrder(db))
		user.POST("/orders/:id/cancel", handlers.CancelOrder(db))

		user.POST("/payments/create-intent", handlers.CreatePaymentIntent(db, processor))
		user.POST("/payments/confirm", handlers.ConfirmPayment(db, processor))
	}

	staff := r.Group("")
	staff.Use(middleware.StaffAuth(config.AppEnv.JWTSecret))
	{
		staff.GET("/admin/api/orders", handlers.GetAllOrders(db))
		staff.POST("/orders/:id/status", handlers.UpdateOrderStatus(db))
		staff.POST("/orders/:id/tracking", handlers.AddOrderTracking(db))
		staff.POST("/payments/:orderId/refund", handlers.ProcessRefund(db, processor))
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	r.Run(":" + port)
}
