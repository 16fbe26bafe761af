package controllers

import (
	"errors"
	"fmt"
	"strings"

	"abonnement-backend/database"
	"abonnement-backend/middlewares"
	"abonnement-backend/models"
	"abonnement-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ArticleCreateDTO struct {
	Name          string            `json:"name" validate:"required,min=1"`
	Description   string            `json:"description"`
	UnitPrice     decimal.Decimal   `json:"unit_price"`
	UnitOfMeasure string            `json:"unit_of_measure" validate:"omitempty,max=32"`
	Translations  map[string]string `json:"translations" validate:"omitempty,dive,keys,min=2,max=16,endkeys"`
	Active        *bool             `json:"active"`
}

type ArticleUpdateDTO struct {
	Name          *string           `json:"name" validate:"omitempty,min=1"`
	Description   *string           `json:"description"`
	UnitPrice     *decimal.Decimal  `json:"unit_price"`
	UnitOfMeasure *string           `json:"unit_of_measure" validate:"omitempty,max=32"`
	Translations  map[string]string `json:"translations" validate:"omitempty,dive,keys,min=2,max=16,endkeys"`
	Active        *bool             `json:"active"`
}

func translations(in map[string]string) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for lang, text := range in {
		out[strings.TrimSpace(lang)] = strings.TrimSpace(text)
	}
	return out
}

// POST /api/article (batch create)
func CreateArticles(c *fiber.Ctx) error {
	var inputs []ArticleCreateDTO
	if err := c.BodyParser(&inputs); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(inputs) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no articles given")
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	created := make([]models.Article, 0, len(inputs))
	for i, in := range inputs {
		if err := middlewares.ValidateStruct(in); err != nil {
			return err
		}
		if in.UnitPrice.IsNegative() {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid unit price at index %d", i))
		}
		utils.NormalizeDTO(&in)
		article := models.Article{
			Name:          in.Name,
			Description:   in.Description,
			UnitPrice:     in.UnitPrice,
			UnitOfMeasure: in.UnitOfMeasure,
			Translations:  translations(in.Translations),
			Active:        in.Active == nil || *in.Active,
		}
		if article.UnitOfMeasure == "" {
			article.UnitOfMeasure = "Units"
		}
		if err := db.Create(&article).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("could not create article at index %d", i))
		}
		created = append(created, article)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// GET /api/articles?active=true
func GetArticles(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	q := db.Model(&models.Article{}).Order("name")
	if c.Query("active") == "true" {
		q = q.Where("active = ?", true)
	}
	var articles []models.Article
	if err := q.Find(&articles).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"articles": articles, "message": "success"})
}

// PUT /api/articles/:id
func UpdateArticle(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing article id in path")
	}

	var in ArticleUpdateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&in)
	if in.UnitPrice != nil && in.UnitPrice.IsNegative() {
		return fiber.NewError(fiber.StatusBadRequest, "invalid unit price")
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var existing models.Article
	if err := db.First(&existing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "article not found")
		}
		return err
	}

	updates := utils.UpdatesFromPtrDTO(&in, nil)
	if in.Translations != nil {
		updates["translations"] = translations(in.Translations)
	}
	if len(updates) > 0 {
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not update article")
		}
	}

	var out models.Article
	if err := db.First(&out, "id = ?", id).Error; err != nil {
		return err
	}
	return c.JSON(out)
}
