package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
)

// ProductController продукты и рецепты
type ProductController struct {
	recipeService *services.RecipeService
	log           *logrus.Logger
}

// NewProductController создает новый контроллер продуктов
func NewProductController(recipeService *services.RecipeService, log *logrus.Logger) *ProductController {
	return &ProductController{recipeService: recipeService, log: log}
}

// List возвращает продукты с рецептами
// GET /products
func (pc *ProductController) List(c *gin.Context) {
	products, err := pc.recipeService.ListProducts(c.Request.Context())
	if err != nil {
		respondError(c, pc.log, "ListProducts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"count":    len(products),
	})
}

// GET /products/:id
func (pc *ProductController) Get(c *gin.Context) {
	id, ok := pathID(c, pc.log, "GetProduct")
	if !ok {
		return
	}
	view, err := pc.recipeService.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, pc.log, "GetProduct", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetRecipe строки рецепта по имени ингредиента
// GET /products/:id/recipe
func (pc *ProductController) GetRecipe(c *gin.Context) {
	id, ok := pathID(c, pc.log, "GetRecipe")
	if !ok {
		return
	}
	// пустой рецепт существующего продукта - не ошибка, а отсутствие продукта - 404
	view, err := pc.recipeService.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, pc.log, "GetRecipe", err)
		return
	}
	items, err := pc.recipeService.RecipeFor(c.Request.Context(), id)
	if err != nil {
		respondError(c, pc.log, "GetRecipe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id":   view.ID,
		"product_name": view.Name,
		"ingredients":  items,
	})
}

// POST /products
func (pc *ProductController) Create(c *gin.Context) {
	var req models.ProductRequest
	if !bindJSON(c, pc.log, "CreateProduct", &req) {
		return
	}
	view, err := pc.recipeService.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		respondError(c, pc.log, "CreateProduct", err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// Update если прислан ingredients, рецепт заменяется целиком
// PUT /products/:id
func (pc *ProductController) Update(c *gin.Context) {
	id, ok := pathID(c, pc.log, "UpdateProduct")
	if !ok {
		return
	}
	var req models.ProductRequest
	if !bindJSON(c, pc.log, "UpdateProduct", &req) {
		return
	}
	view, err := pc.recipeService.UpdateProduct(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, pc.log, "UpdateProduct", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// DELETE /products/:id
func (pc *ProductController) Delete(c *gin.Context) {
	id, ok := pathID(c, pc.log, "DeleteProduct")
	if !ok {
		return
	}
	if err := pc.recipeService.DeleteProduct(c.Request.Context(), id); err != nil {
		respondError(c, pc.log, "DeleteProduct", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Продукт удален"})
}
