package controllers

import (
	"errors"
	"strings"
	"time"

	"abonnement-backend/database"
	"abonnement-backend/logger"
	"abonnement-backend/middlewares"
	"abonnement-backend/models"
	"abonnement-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type RegisterDTO struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	Salutation      string `json:"salutation"`
	Title           string `json:"title"`
	PhoneNumber     string `json:"phone_number"`
	MobileNumber    string `json:"mobile_number"`

	CompanyName string           `json:"company_name" validate:"required,min=2"`
	Address     string           `json:"address" validate:"required"`
	City        string           `json:"city" validate:"required"`
	Country     string           `json:"country" validate:"required"`
	Zip         string           `json:"zip" validate:"required"`
	Homepage    string           `json:"homepage" validate:"omitempty,url"`
	UID         string           `json:"uid"`
	Currency    string           `json:"currency" validate:"omitempty,len=3" normalize:"upper"`
	Marge12     *decimal.Decimal `json:"marge_12"`
	Marge18     *decimal.Decimal `json:"marge_18"`
	Marge24     *decimal.Decimal `json:"marge_24"`
}

type LoginDTO struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthController handles registration and login against the public schema.
type AuthController struct {
	DB   *gorm.DB
	Auth *middlewares.Authenticator
	Log  *logger.Logger
}

func NewAuthController(db *gorm.DB, auth *middlewares.Authenticator, log *logger.Logger) *AuthController {
	if log == nil {
		log = logger.Nop()
	}
	return &AuthController{DB: db, Auth: auth, Log: log.With("component", "auth")}
}

func decimalOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// POST /api/registration
// Creates user, contact person and company, then the company's tenant schema.
func (ctl *AuthController) Register(c *fiber.Ctx) error {
	var in RegisterDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizeDTO(&in)
	if err := (MarginsDTO{in.Marge12, in.Marge18, in.Marge24}).check(); err != nil {
		return err
	}

	schema, err := database.SchemaName(in.CompanyName)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "company name cannot be used as tenant name")
	}

	var company models.Company
	err = ctl.DB.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", in.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fiber.NewError(fiber.StatusBadRequest, "email already exists")
		}
		if err := tx.Model(&models.Company{}).Where("schema_name = ?", schema).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fiber.NewError(fiber.StatusConflict, "company already registered")
		}

		user := models.User{
			FirstName:  in.FirstName,
			LastName:   in.LastName,
			Email:      in.Email,
			SchemaName: schema,
		}
		if err := user.SetPassword(in.Password); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not create user")
		}

		contact := models.ContactPerson{
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Salutation:   in.Salutation,
			Title:        in.Title,
			PhoneNumber:  in.PhoneNumber,
			MobileNumber: in.MobileNumber,
		}
		if err := tx.Create(&contact).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not create contact person")
		}

		company = models.Company{
			CompanyName: in.CompanyName,
			Address:     in.Address,
			City:        in.City,
			Country:     in.Country,
			Zip:         in.Zip,
			Homepage:    in.Homepage,
			UID:         in.UID,
			Currency:    in.Currency,
			Marge12:     decimalOrZero(in.Marge12),
			Marge18:     decimalOrZero(in.Marge18),
			Marge24:     decimalOrZero(in.Marge24),
			UserId:      user.Id,
			PId:         contact.Id,
			SchemaName:  schema,
		}
		if company.Currency == "" {
			company.Currency = "EUR"
		}
		if err := tx.Omit("User", "ContactPerson").Create(&company).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not create company")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := database.CreateSchema(ctl.DB, schema); err != nil {
		ctl.Log.Error("tenant schema creation failed", "schema", schema, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "registration failed due to internal error")
	}
	if err := database.MigrateTenantSchema(ctl.DB, schema); err != nil {
		ctl.Log.Error("tenant migration failed", "schema", schema, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not migrate tenant schema")
	}
	ctl.Log.Info("company registered", "schema", schema)

	if err := ctl.DB.Preload("User").Preload("ContactPerson").First(&company, "id = ?", company.Id).Error; err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(company)
}

// POST /api/login
func (ctl *AuthController) Login(c *fiber.Ctx) error {
	var in LoginDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	var user models.User
	err := ctl.DB.Where("email = ?", strings.TrimSpace(in.Email)).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if _, perr := uuid.Parse(user.Id); err != nil || perr != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid credentials")
	}
	if err := user.ComparePassword(in.Password); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid credentials")
	}

	token, err := ctl.Auth.Issue(user.Id, user.SchemaName)
	if err != nil {
		return err
	}

	// keep older tenants in step with the current models
	if err := database.MigrateTenantSchema(ctl.DB, user.SchemaName); err != nil {
		ctl.Log.Error("tenant migration failed", "schema", user.SchemaName, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "could not migrate tenant schema")
	}

	return c.JSON(fiber.Map{
		"token":  token,
		"schema": user.SchemaName,
		"user": fiber.Map{
			"id":    user.Id,
			"name":  user.FirstName + " " + user.LastName,
			"email": user.Email,
		},
	})
}

// POST /api/logout
func (ctl *AuthController) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "jwt",
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
	})
	return c.JSON(fiber.Map{
		"message": "success",
	})
}
