// internal/service/coupon/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"couponhub/internal/pkg/lock"
	"couponhub/internal/service/coupon/application"
	"couponhub/internal/service/coupon/domain"
)

// CouponHandler 封装了 coupon 服务的 HTTP 处理器。
type CouponHandler struct {
	facade  *application.CouponIssueFacade
	service *application.CouponService
}

// NewCouponHandler 创建一个新的 HTTP 处理器实例。
func NewCouponHandler(facade *application.CouponIssueFacade, service *application.CouponService) *CouponHandler {
	return &CouponHandler{facade: facade, service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由。
func (h *CouponHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /coupons/{templateId}/issue", h.handleIssueCoupon)
	mux.HandleFunc("GET /users/{userId}/coupons", h.handleGetUserCoupons)
}

type issueCouponRequest struct {
	UserID int64 `json:"userId"`
}

func (h *CouponHandler) handleIssueCoupon(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	templateID, err := strconv.ParseInt(r.PathValue("templateId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}

	var req issueCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	result, err := h.facade.RequestIssue(ctx, application.IssueCouponCommand{
		TemplateID: templateID,
		UserID:     req.UserID,
	})
	if err != nil {
		http.Error(w, err.Error(), issueErrorStatus(err))
		return
	}

	// 两种应答都是 200：排队路径从 body 里的 queued 字段区分
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// issueErrorStatus 根据错误类型返回不同的 HTTP 状态码。
func issueErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTemplateExhausted),
		errors.Is(err, domain.ErrPerUserLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, lock.ErrLockAcquisitionFailed):
		// 没抢到锁说明同模板的请求太密集，让客户端稍后重试
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *CouponHandler) handleGetUserCoupons(w http.ResponseWriter, r *http.Request) {
	propagator := otel.GetTextMapPropagator()
	ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	coupons, err := h.service.GetUserCoupons(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":  userID,
		"coupons": coupons,
	})
}
