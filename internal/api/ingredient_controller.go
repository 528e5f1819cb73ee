package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
)

// IngredientController справочник ингредиентов
type IngredientController struct {
	ingredientService *services.IngredientService
	log               *logrus.Logger
}

func NewIngredientController(ingredientService *services.IngredientService, log *logrus.Logger) *IngredientController {
	return &IngredientController{ingredientService: ingredientService, log: log}
}

// GET /ingredients
func (ic *IngredientController) List(c *gin.Context) {
	items, err := ic.ingredientService.List(c.Request.Context())
	if err != nil {
		respondError(c, ic.log, "ListIngredients", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ingredients": items,
		"count":       len(items),
	})
}

// GET /ingredients/:id
func (ic *IngredientController) Get(c *gin.Context) {
	id, ok := pathID(c, ic.log, "GetIngredient")
	if !ok {
		return
	}
	ing, err := ic.ingredientService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, ic.log, "GetIngredient", err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

// POST /ingredients
func (ic *IngredientController) Create(c *gin.Context) {
	var req models.IngredientRequest
	if !bindJSON(c, ic.log, "CreateIngredient", &req) {
		return
	}
	ing, err := ic.ingredientService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, ic.log, "CreateIngredient", err)
		return
	}
	c.JSON(http.StatusCreated, ing)
}

// PUT /ingredients/:id
// current_stock, если прислан, проводится корректировкой через журнал
func (ic *IngredientController) Update(c *gin.Context) {
	id, ok := pathID(c, ic.log, "UpdateIngredient")
	if !ok {
		return
	}
	var req models.IngredientRequest
	if !bindJSON(c, ic.log, "UpdateIngredient", &req) {
		return
	}
	ing, err := ic.ingredientService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, ic.log, "UpdateIngredient", err)
		return
	}
	c.JSON(http.StatusOK, ing)
}

// DELETE /ingredients/:id
func (ic *IngredientController) Delete(c *gin.Context) {
	id, ok := pathID(c, ic.log, "DeleteIngredient")
	if !ok {
		return
	}
	if err := ic.ingredientService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, ic.log, "DeleteIngredient", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Ингредиент удален"})
}
