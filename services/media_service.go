package services

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"contest-engine/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

var allowedMediaExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".mp4":  true,
}

// UploadMediaEndpoint handles POST /admin/media: cover art and avatars go to
// R2, keyed by a fresh uuid so uploads never collide or leak filenames.
func UploadMediaEndpoint(c *fiber.Ctx) error {
	if !utils.MediaStoreReady() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "media store not configured"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is required"})
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedMediaExt[ext] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": fmt.Sprintf("unsupported media type %s", ext)})
	}

	key := fmt.Sprintf("media/%s%s", uuid.NewString(), ext)
	url, err := utils.UploadMedia(fileHeader, key)
	if err != nil {
		log.Printf("❌ media upload failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "upload failed"})
	}

	log.Printf("✅ media uploaded: %s", key)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key, "url": url})
}
