package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"qi_api/internal/domain/payment/gateway"
	"qi_api/internal/domain/payment/model"
	"qi_api/internal/domain/payment/repository"
	productModel "qi_api/internal/domain/product/model"
	userModel "qi_api/internal/domain/user/model"
	userRepo "qi_api/internal/domain/user/repository"
	"qi_api/internal/pkg/apperr"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// memStore 内存版存储，事务期间独占整个存储，失败时按快照回滚
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*model.Order
	users    map[string]*userModel.User
	records  map[string]*model.PaymentRecord
	products map[string]*productModel.Product

	creditErr  error // CreditBalance 注入的错误
	commitErr  error // 提交时注入的错误
	creditCall int
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[string]*model.Order),
		users:    make(map[string]*userModel.User),
		records:  make(map[string]*model.PaymentRecord),
		products: make(map[string]*productModel.Product),
	}
}

func (st *memStore) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	st.mu.Lock()
	return st.mu.Unlock
}

func (st *memStore) order(orderNo string) model.Order {
	st.mu.Lock()
	defer st.mu.Unlock()
	return *st.orders[orderNo]
}

func (st *memStore) balance(userID string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.users[userID].Balance
}

func (st *memStore) recordCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.records)
}

func (st *memStore) orderCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.orders)
}

type memOrders struct {
	st   *memStore
	inTx bool
}

func (r *memOrders) WithTx(tx *gorm.DB) repository.OrderRepository { return r }

func (r *memOrders) Create(ctx context.Context, order *model.Order) error {
	defer r.st.lock(r.inTx)()
	if _, ok := r.st.orders[order.OrderNo]; ok {
		return apperr.ErrConcurrencyLost
	}
	o := *order
	o.CreatedAt = time.Now()
	r.st.orders[order.OrderNo] = &o
	return nil
}

func (r *memOrders) GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error) {
	defer r.st.lock(r.inTx)()
	o, ok := r.st.orders[orderNo]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderNo)
	}
	cp := *o
	return &cp, nil
}

func (r *memOrders) FindActive(ctx context.Context, productID, userID, payType string, now time.Time) (*model.Order, error) {
	defer r.st.lock(r.inTx)()
	var found *model.Order
	for _, o := range r.st.orders {
		if o.UserID == userID && o.ProductID == productID && o.PayType == payType &&
			o.Status == model.StatusNotPay && o.ExpirationTime.After(now) {
			if found == nil || o.CreatedAt.After(found.CreatedAt) {
				found = o
			}
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r *memOrders) SetPayableCode(ctx context.Context, orderNo, code string) error {
	defer r.st.lock(r.inTx)()
	o, ok := r.st.orders[orderNo]
	if !ok || (o.CodeURL != "" && o.CodeURL != code) {
		return apperr.ErrConcurrencyLost
	}
	o.CodeURL = code
	return nil
}

func (r *memOrders) TransitionStatus(ctx context.Context, orderNo, from, to string) error {
	if !model.CanTransition(from, to) {
		return apperr.ErrValidation
	}
	defer r.st.lock(r.inTx)()
	o, ok := r.st.orders[orderNo]
	if !ok || o.Status != from {
		return apperr.ErrConcurrencyLost
	}
	o.Status = to
	return nil
}

func (r *memOrders) FindExpired(ctx context.Context, now time.Time, limit int) ([]model.Order, error) {
	defer r.st.lock(r.inTx)()
	var out []model.Order
	for _, o := range r.st.orders {
		if o.Status == model.StatusNotPay && !o.ExpirationTime.After(now) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpirationTime.Before(out[j].ExpirationTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRecords struct {
	st   *memStore
	inTx bool
}

func (r *memRecords) WithTx(tx *gorm.DB) repository.PaymentRecordRepository { return r }

func (r *memRecords) Create(ctx context.Context, record *model.PaymentRecord) error {
	defer r.st.lock(r.inTx)()
	if _, ok := r.st.records[record.OrderNo]; ok {
		return apperr.ErrConcurrencyLost
	}
	r.st.records[record.OrderNo] = record
	return nil
}

func (r *memRecords) GetByOrderNo(ctx context.Context, orderNo string) (*model.PaymentRecord, error) {
	defer r.st.lock(r.inTx)()
	rec, ok := r.st.records[orderNo]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return rec, nil
}

type memUsers struct {
	st   *memStore
	inTx bool
}

func (r *memUsers) WithTx(tx *gorm.DB) userRepo.UserRepository { return r }

func (r *memUsers) GetByID(ctx context.Context, id string) (*userModel.User, error) {
	defer r.st.lock(r.inTx)()
	u, ok := r.st.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) CreditBalance(ctx context.Context, userID string, points int64) error {
	defer r.st.lock(r.inTx)()
	r.st.creditCall++
	if r.st.creditErr != nil {
		return r.st.creditErr
	}
	u, ok := r.st.users[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	u.Balance += points
	return nil
}

func (st *memStore) stores(inTx bool) repository.Stores {
	return repository.Stores{
		Orders:  &memOrders{st: st, inTx: inTx},
		Records: &memRecords{st: st, inTx: inTx},
		Users:   &memUsers{st: st, inTx: inTx},
	}
}

// memTransactor 串行化事务
type memTransactor struct {
	st *memStore
}

func (t *memTransactor) InTx(ctx context.Context, fn func(s repository.Stores) error) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	snapOrders := make(map[string]model.Order, len(t.st.orders))
	for k, o := range t.st.orders {
		snapOrders[k] = *o
	}
	snapBalances := make(map[string]int64, len(t.st.users))
	for k, u := range t.st.users {
		snapBalances[k] = u.Balance
	}
	snapRecords := make(map[string]*model.PaymentRecord, len(t.st.records))
	for k, r := range t.st.records {
		snapRecords[k] = r
	}

	err := fn(t.st.stores(true))
	if err == nil {
		err = t.st.commitErr
	}
	if err != nil {
		for k, o := range snapOrders {
			o := o
			t.st.orders[k] = &o
		}
		for k, b := range snapBalances {
			t.st.users[k].Balance = b
		}
		t.st.records = snapRecords
	}
	return err
}

type memProducts struct {
	st *memStore
}

func (r *memProducts) GetByID(ctx context.Context, id string) (*productModel.Product, error) {
	defer r.st.lock(false)()
	p, ok := r.st.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", apperr.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

// mockGateway testify 网关 mock
type mockGateway struct {
	mock.Mock
	payType string
}

func (m *mockGateway) PayType() string { return m.payType }

func (m *mockGateway) CreateOrder(ctx context.Context, order *model.Order) (string, error) {
	args := m.Called(ctx, order)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) QueryOrder(ctx context.Context, orderNo string) (*gateway.Result, error) {
	args := m.Called(ctx, orderNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Result), args.Error(1)
}

func (m *mockGateway) CloseOrder(ctx context.Context, orderNo string) error {
	return m.Called(ctx, orderNo).Error(0)
}

func (m *mockGateway) ParseNotification(ctx context.Context, payload []byte, headers http.Header) (*gateway.Result, error) {
	args := m.Called(ctx, payload, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Result), args.Error(1)
}

type recordingNotifier struct {
	ch chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan string, 64)}
}

func (n *recordingNotifier) PaySuccess(ctx context.Context, order *model.Order) {
	n.ch <- order.OrderNo
}

type recordingRetry struct {
	mu     sync.Mutex
	orders []string
}

func (r *recordingRetry) Enqueue(orderNo string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, orderNo)
	return true
}

func (r *recordingRetry) enqueued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.orders...)
}

func successResult(orderNo string, total int64) *gateway.Result {
	raw, _ := json.Marshal(map[string]string{"out_trade_no": orderNo})
	return &gateway.Result{
		OrderNo:       orderNo,
		TransactionID: "tx-" + orderNo,
		TradeType:     "NATIVE",
		TradeState:    gateway.TradeSuccess,
		Total:         total,
		PayerTotal:    total,
		Currency:      "CNY",
		Raw:           raw,
	}
}
