package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/admin"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cache"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/go-storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-storefront-orderflow/internal/identity"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
	"github.com/imrishuroy/go-storefront-orderflow/internal/tracking"
	"github.com/imrishuroy/go-storefront-orderflow/internal/validation"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// testEnv is the shared backing state of one or more API instances.
type testEnv struct {
	fake     *dynamotest.Fake
	carts    cart.Store
	kv       cache.Cache
	repo     *orders.Store
	products *catalog.Store
	v        *validatorv10.Validate
	logger   *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := dynamotest.New()
	fake.CreateTable("orders", "order_id", "")
	fake.CreateIndex("orders", orders.UserIndex, "user_id", "created_at")
	fake.CreateTable("order_items", "order_id", "item_id")
	fake.CreateTable("idempotency", "idempotency_key", "")
	fake.CreateTable("products", "product_id", "")
	fake.CreateTable("profiles", "email", "")

	return &testEnv{
		fake:     fake,
		carts:    cart.NewMemoryStore(),
		kv:       cache.NewMemory("test"),
		repo:     orders.NewStore(fake, "orders", "order_items", idempotency.NewStore(fake, "idempotency", time.Hour)),
		products: catalog.NewStore(fake, "products"),
		v:        validation.New(validation.WithClock(func() time.Time { return testNow })),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// router builds one API instance over the shared state. Each instance has
// its own checkout sessions, as separate processes would.
func (e *testEnv) router() *gin.Engine {
	deps := &checkout.Deps{
		Orders:      e.repo,
		Validate:    e.v,
		CurrentUser: identity.UserID,
		Logger:      e.logger,
		Now:         func() time.Time { return testNow },
	}
	cfg := HandlerConfig{
		Carts:     e.carts,
		Products:  e.products,
		Sessions:  checkout.NewSessions(deps, e.carts, e.kv, time.Hour),
		Orders:    e.repo,
		Carrier:   tracking.NewStaticCarrier(),
		Editor:    admin.NewEditor(e.repo, e.products, e.v, admin.WithLogger(e.logger)),
		Identity:  identity.NewProvider(e.fake, "profiles", []byte("test-secret"), time.Hour, e.kv, []string{"admin@example.com"}),
		Validator: e.v,
	}
	r := gin.New()
	Register(r, cfg)
	return r
}

func newTestRouter(t *testing.T) (*gin.Engine, *dynamotest.Fake) {
	t.Helper()
	env := newTestEnv(t)
	return env.router(), env.fake
}

type call struct {
	method, path string
	body         interface{}
	token        string
	session      string
	headers      map[string]string
}

func do(t *testing.T, r *gin.Engine, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.session != "" {
		req.Header.Set(HeaderSessionID, c.session)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func signUp(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()
	w := do(t, r, call{method: http.MethodPost, path: "/auth/signup", body: gin.H{"email": email, "password": "correct-horse"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s identity.Session
	decode(t, w, &s)
	return s.Token
}

var shipping = orders.Address{
	FirstName: "Ada", LastName: "Lovelace", Address: "1 Main St", City: "Leeds",
	State: "WY", ZipCode: "LS1", Country: "UK",
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckoutToAdminEdit(t *testing.T) {
	r, fake := newTestRouter(t)
	customer := signUp(t, r, "shopper@example.com")
	boss := signUp(t, r, "admin@example.com")

	// catalog
	w := do(t, r, call{method: http.MethodPut, path: "/admin/products/ring", token: boss,
		body: gin.H{"name": "Gold Ring", "price": "2150.00", "in_stock": true}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, call{method: http.MethodPut, path: "/admin/products/ring", token: customer, body: gin.H{"name": "x"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// cart
	w = do(t, r, call{method: http.MethodPost, path: "/cart/items", session: "s-1", body: gin.H{"product_id": "ring", "quantity": 1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cv cartView
	decode(t, w, &cv)
	assert.True(t, cv.Total.Equal(decimal.RequireFromString("2150")))
	assert.Equal(t, 1, cv.ItemCount)

	w = do(t, r, call{method: http.MethodPost, path: "/cart/items", body: gin.H{"product_id": "ring"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// checkout steps
	steps := []call{
		{method: http.MethodPut, path: "/checkout/shipping", body: shipping},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/same-as-shipping", body: gin.H{"enabled": true}},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/payment", body: paymentBody()},
		{method: http.MethodPost, path: "/checkout/next"},
	}
	for _, st := range steps {
		st.session = "s-1"
		st.token = customer
		w = do(t, r, st)
		require.Equal(t, http.StatusOK, w.Code, "%s %s: %s", st.method, st.path, w.Body.String())
	}
	var view checkout.View
	decode(t, w, &view)
	assert.Equal(t, "review", view.Step)
	assert.Equal(t, "Leeds", view.Billing.City)
	assert.Equal(t, "1486", view.Payment.Last4)

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-1", token: customer})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conf checkout.Confirmation
	decode(t, w, &conf)
	assert.True(t, conf.Persisted)
	assert.True(t, conf.Total.Equal(decimal.RequireFromString("2150")))

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-1", token: customer})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, fake.Len("orders"))

	w = do(t, r, call{method: http.MethodGet, path: "/cart", session: "s-1"})
	decode(t, w, &cv)
	assert.Empty(t, cv.Items)

	// customer views
	w = do(t, r, call{method: http.MethodGet, path: "/orders", token: customer})
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Orders []orders.Order `json:"orders"`
	}
	decode(t, w, &list)
	require.Len(t, list.Orders, 1)
	assert.Equal(t, conf.OrderID, list.Orders[0].ID)

	w = do(t, r, call{method: http.MethodGet, path: "/orders/" + conf.OrderID + "/tracking", token: customer})
	require.Equal(t, http.StatusOK, w.Code)
	var info tracking.Info
	decode(t, w, &info)
	assert.Equal(t, orders.StatusPending, info.Status)
	assert.NotEmpty(t, info.Events)

	assert.Equal(t, http.StatusUnauthorized, do(t, r, call{method: http.MethodGet, path: "/orders/" + conf.OrderID}).Code)
	other := signUp(t, r, "other@example.com")
	assert.Equal(t, http.StatusNotFound, do(t, r, call{method: http.MethodGet, path: "/orders/" + conf.OrderID, token: other}).Code)

	// admin edit
	w = do(t, r, call{method: http.MethodGet, path: "/admin/orders/" + conf.OrderID, token: boss})
	require.Equal(t, http.StatusOK, w.Code)
	var d admin.Draft
	decode(t, w, &d)
	d.SetQuantity("ring", 2)
	d.Status = orders.StatusProcessing

	w = do(t, r, call{method: http.MethodPut, path: "/admin/orders/" + conf.OrderID, token: boss, body: d})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var edited orders.Order
	decode(t, w, &edited)
	assert.True(t, edited.TotalAmount.Equal(decimal.RequireFromString("4300")))
	assert.Equal(t, orders.StatusProcessing, edited.Status)

	// stale draft
	w = do(t, r, call{method: http.MethodPut, path: "/admin/orders/" + conf.OrderID, token: boss, body: d})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, call{method: http.MethodDelete, path: "/admin/orders/" + conf.OrderID, token: boss})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, fake.Len("order_items"))
}

func TestCheckoutValidationAndSessionErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, call{method: http.MethodGet, path: "/checkout"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/next", session: "s-9"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var body struct {
		Error  string            `json:"error"`
		Step   string            `json:"step"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "shipping", body.Step)
	assert.Contains(t, body.Fields, "first_name")

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-9"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/goto/nowhere", session: "s-9"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuestCheckoutIsNotStored(t *testing.T) {
	r, fake := newTestRouter(t)
	boss := signUp(t, r, "admin@example.com")
	do(t, r, call{method: http.MethodPut, path: "/admin/products/pen", token: boss, body: gin.H{"name": "Pen", "price": "3.50", "in_stock": true}})
	do(t, r, call{method: http.MethodPost, path: "/cart/items", session: "g-1", body: gin.H{"product_id": "pen", "quantity": 2}})

	for _, st := range []call{
		{method: http.MethodPut, path: "/checkout/shipping", body: shipping},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/billing", body: shipping},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/payment", body: paymentBody()},
		{method: http.MethodPost, path: "/checkout/next"},
	} {
		st.session = "g-1"
		require.Equal(t, http.StatusOK, do(t, r, st).Code)
	}

	w := do(t, r, call{method: http.MethodPost, path: "/checkout/place-order", session: "g-1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conf checkout.Confirmation
	decode(t, w, &conf)
	assert.False(t, conf.Persisted)
	assert.True(t, conf.Total.Equal(decimal.RequireFromString("7")))
	assert.Equal(t, 0, fake.Len("orders"))
}

func TestAuthRoutes(t *testing.T) {
	r, _ := newTestRouter(t)
	token := signUp(t, r, "a@example.com")

	w := do(t, r, call{method: http.MethodPost, path: "/auth/signup", body: gin.H{"email": "a@example.com", "password": "correct-horse"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, call{method: http.MethodPost, path: "/auth/signin", body: gin.H{"email": "a@example.com", "password": "nope-nope"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, call{method: http.MethodGet, path: "/auth/me", token: token})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, call{method: http.MethodPost, path: "/auth/signout", token: token})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, call{method: http.MethodGet, path: "/auth/me", token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func paymentBody() gin.H {
	return gin.H{"card_number": "4539578763621486", "cardholder_name": "Ada Lovelace", "expiry": "12/27", "cvv": "123"}
}

// toReview adds a product to the cart of session and walks its checkout to
// the review step.
func toReview(t *testing.T, r *gin.Engine, boss, session string) {
	t.Helper()
	w := do(t, r, call{method: http.MethodPut, path: "/admin/products/pen", token: boss, body: gin.H{"name": "Pen", "price": "3.50", "in_stock": true}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, r, call{method: http.MethodPost, path: "/cart/items", session: session, body: gin.H{"product_id": "pen", "quantity": 2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, st := range []call{
		{method: http.MethodPut, path: "/checkout/shipping", body: shipping},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/billing", body: shipping},
		{method: http.MethodPost, path: "/checkout/next"},
		{method: http.MethodPut, path: "/checkout/payment", body: paymentBody()},
		{method: http.MethodPost, path: "/checkout/next"},
	} {
		st.session = session
		w = do(t, r, st)
		require.Equal(t, http.StatusOK, w.Code, "%s %s: %s", st.method, st.path, w.Body.String())
	}
}

func TestCheckoutAcrossInstances(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.router(), env.router()
	boss := signUp(t, a, "admin@example.com")
	toReview(t, a, boss, "s-lb")

	w := do(t, b, call{method: http.MethodGet, path: "/checkout", session: "s-lb"})
	require.Equal(t, http.StatusOK, w.Code)
	var view checkout.View
	decode(t, w, &view)
	assert.Equal(t, "review", view.Step)
	assert.Equal(t, "Leeds", view.Shipping.City)
	assert.Empty(t, view.Payment.Last4, "card details stay with the instance that received them")

	w = do(t, b, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-lb"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var body struct {
		Step   string            `json:"step"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "payment", body.Step)
	assert.Contains(t, body.Fields, "card_number")

	w = do(t, b, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-lb", body: paymentBody()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conf checkout.Confirmation
	decode(t, w, &conf)
	assert.True(t, conf.Total.Equal(decimal.RequireFromString("7")))
	assert.Equal(t, "1486", conf.PaymentMethod.Last4)

	w = do(t, a, call{method: http.MethodGet, path: "/checkout", session: "s-lb"})
	decode(t, w, &view)
	assert.Equal(t, "submitted", view.Step)
	require.NotNil(t, view.Confirmation)
	assert.Equal(t, conf.OrderID, view.Confirmation.OrderID)
}

func TestPlaceOrderRevalidatesEditedAddress(t *testing.T) {
	r, fake := newTestRouter(t)
	boss := signUp(t, r, "admin@example.com")
	toReview(t, r, boss, "s-edit")

	w := do(t, r, call{method: http.MethodPut, path: "/checkout/shipping", session: "s-edit", body: orders.Address{}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, call{method: http.MethodPost, path: "/checkout/place-order", session: "s-edit", token: boss})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	var body struct {
		Step   string            `json:"step"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "shipping", body.Step)
	assert.Contains(t, body.Fields, "first_name")
	assert.Equal(t, 0, fake.Len("orders"))
}

func TestAdminProductRequiresName(t *testing.T) {
	r, _ := newTestRouter(t)
	boss := signUp(t, r, "admin@example.com")

	w := do(t, r, call{method: http.MethodPut, path: "/admin/products/ring", token: boss, body: gin.H{"price": "10.00"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Contains(t, body.Fields, "name")
}
