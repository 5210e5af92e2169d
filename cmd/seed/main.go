package main

import (
	"context"
	"log"
	"os"

	"github.com/Baaaki/roomcast/internal/apperr"
	"github.com/Baaaki/roomcast/internal/audit"
	"github.com/Baaaki/roomcast/internal/broker"
	"github.com/Baaaki/roomcast/internal/config"
	"github.com/Baaaki/roomcast/internal/database"
	"github.com/Baaaki/roomcast/internal/models"
	"github.com/Baaaki/roomcast/internal/repository"
	"github.com/Baaaki/roomcast/internal/service"
	"github.com/Baaaki/roomcast/internal/utils"
)

const defaultRoom = "general"

// seed creates a superuser and a public "general" room owned by it.
// Running it again changes nothing.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		log.Fatal("Missing environment variables: ADMIN_USERNAME, ADMIN_PASSWORD")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ctx := context.Background()
	repos := repository.New(db)

	admin, err := repos.Users.GetUserByUsername(ctx, adminUsername)
	if err != nil {
		log.Fatalf("Failed to look up admin: %v", err)
	}

	if admin != nil {
		log.Println("✅ Admin user already exists:", admin.Username)
	} else {
		passwordHash, err := utils.HashPassword(adminPassword)
		if err != nil {
			log.Fatal("Failed to hash password:", err)
		}

		admin = &models.User{
			Username:     adminUsername,
			Email:        adminEmail,
			PasswordHash: passwordHash,
			IsSuperuser:  true,
		}
		err = repos.Transaction(ctx, func(tx *repository.Repositories) error {
			return tx.Users.CreateUser(ctx, admin, &models.Profile{})
		})
		if err != nil {
			log.Fatal("Failed to create admin:", err)
		}
		log.Println("✅ Admin user created successfully!")
		log.Println("   Username:", admin.Username)
	}

	registry := broker.NewRegistry()
	members := service.NewMembershipService(repos, registry, broker.NewLocalBus(registry), audit.Discard{}, cfg.InvitationTTL)
	rooms := service.NewRoomService(repos, members, service.NewReadLedger(repos, members))

	room, err := rooms.CreateRoom(ctx, admin.Identity(), service.CreateRoomInput{
		Name:        defaultRoom,
		Description: "Everyone is welcome here",
	})
	switch {
	case apperr.Is(err, apperr.KindConflict):
		log.Printf("✅ Room %q already exists", defaultRoom)
	case err != nil:
		log.Fatalf("Failed to create room %q: %v", defaultRoom, err)
	default:
		log.Printf("✅ Room %q created (id %d)", room.Name, room.ID)
	}
}
