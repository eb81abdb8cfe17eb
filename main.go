package main

import (
	"fmt"
	"log"
	"os"

	_ "waitline/docs"
	"waitline/internal/auth"
	"waitline/internal/handlers"
	"waitline/internal/models"
	"waitline/internal/notify"
	"waitline/internal/queue"
	"waitline/internal/storage"
	"waitline/internal/tasks"
	"waitline/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Лист ожидания заведения
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(&models.Merchant{}, &models.User{}, &models.Queue{}, &models.QueueEntry{}); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	go ws.HubInstance.Run()

	router := notify.NewRouter(ws.HubInstance)
	repo := queue.NewGormRepo(storage.DB)
	policy := queue.NewGormPolicy(storage.DB)
	dispatcher := queue.NewDispatcher(repo, policy, router, queue.LoadConfig())
	handlers.Dispatcher = dispatcher

	// Восстановление состояния после рестарта: трекеры ожидающих и таймеры
	// приглашённых для всех активных очередей.
	var activeQueues []models.Queue
	if err := storage.DB.Where("is_active = ?", true).Find(&activeQueues).Error; err != nil {
		log.Println("Ошибка загрузки активных очередей:", err)
	}
	for _, q := range activeQueues {
		if err := dispatcher.RestoreQueue(q.ID); err != nil {
			log.Println("Ошибка восстановления очереди", q.ID, ":", err)
		}
	}

	tasks.InitScheduler(dispatcher)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
	}

	// Гостевые маршруты: авторизация по токену сессии или телефону записи.
	public := r.Group("")
	{
		public.POST("/queues/:id/join", handlers.JoinQueueHandler)
		public.GET("/queues/:id/board", handlers.GetQueueBoardHandler)
		public.GET("/queues/:id/ws", ws.EntryWebSocketHandler)
		public.POST("/entries/:id/acknowledge", handlers.AcknowledgeHandler)
		public.POST("/entries/:id/cancel", handlers.CancelOwnEntryHandler)
	}

	// Маршруты персонала: JWT сотрудника заведения.
	api := r.Group("/api", auth.AuthMiddleware())
	{
		api.POST("/queues", handlers.CreateQueueHandler)
		api.PATCH("/queues/:id/open", handlers.OpenQueueHandler)
		api.PATCH("/queues/:id/close", handlers.CloseQueueHandler)
		api.GET("/queues/:id/status", handlers.GetQueueStatusHandler)
		api.GET("/queues/:id/ws", ws.MerchantWebSocketHandler)
		api.POST("/queues/:id/call-next", handlers.CallNextHandler)
		api.POST("/queues/:id/entries/:entryID/call", handlers.CallEntryHandler)
		api.POST("/entries/:id/cancel", handlers.CancelEntryHandler)
		api.POST("/entries/:id/seat", handlers.SeatEntryHandler)
	}

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
