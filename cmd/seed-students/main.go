package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/service"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
	"Hendra Gunawan", "Ika Sari", "Jamal Mirdad", "Kiki Fatmala", "Lukman Hakim",
	"Maya Septiana", "Nanda Pratama", "Oki Setiana", "Putri Dian", "Qori Maharani",
}

func main() {
	count := flag.Int("n", 20, "number of students to create")
	password := flag.String("password", "stemsijaya", "password shared by every seeded student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	users := service.NewUserService(
		repository.NewStudentRepository(pool),
		repository.NewInstructorRepository(pool),
		service.NewAuthService(cfg),
	)

	fmt.Printf("=== Seeding %d Students ===\n", *count)

	created, skipped := 0, 0
	for i := 0; i < *count; i++ {
		nisn := fmt.Sprintf("user%d", i+1)
		name := names[i%len(names)]
		if i >= len(names) {
			name = fmt.Sprintf("%s %d", name, i/len(names)+1)
		}

		if _, err := users.CreateStudent(ctx, nisn, name, *password); err != nil {
			if database.IsUniqueViolation(err) {
				skipped++
				continue
			}
			fmt.Printf("Error creating student %s (NISN: %s): %v\n", name, nisn, err)
			continue
		}
		created++
		if created%10 == 0 {
			fmt.Printf("Created %d students...\n", created)
		}
	}

	fmt.Printf("\nSeed completed! Added %d, skipped %d existing.\n", created, skipped)
}
