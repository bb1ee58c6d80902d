package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wisefido-checkin/internal/models"

	"go.uber.org/zap"
)

// DefaultTimeout 一次定位的最长等待时间
const DefaultTimeout = 10 * time.Second

// Service 定位服务：授权检查、一次性定位（带超时）、地理编码
type Service struct {
	source   Source
	geocoder Geocoder
	timeout  time.Duration
	logger   *zap.Logger
}

// NewService 创建定位服务；geocoder 可以为 nil（地理编码返回 ErrUnavailable）
func NewService(source Source, geocoder Geocoder, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		source:   source,
		geocoder: geocoder,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start 发起定位，返回可等待、可取消的请求
func (s *Service) Start(ctx context.Context) *Request {
	reqCtx, cancel := context.WithCancel(ctx)
	req := newRequest(cancel)

	go func() {
		defer cancel()
		coord, err := s.locate(reqCtx)
		if rerr := req.Resolve(coord, err); rerr != nil {
			s.logger.Debug("Location request resolved twice", zap.Error(rerr))
		}
	}()

	return req
}

// RequestCurrentPosition 获取当前位置（阻塞直到成功、失败或超时）
func (s *Service) RequestCurrentPosition(ctx context.Context) (models.Coordinate, error) {
	req := s.Start(ctx)
	<-req.Done()
	return req.Result()
}

// ReverseGeocode 坐标 -> 地址
func (s *Service) ReverseGeocode(ctx context.Context, coord models.Coordinate) (string, error) {
	if s.geocoder == nil {
		return "", ErrUnavailable
	}
	return s.geocoder.Reverse(ctx, coord)
}

// ForwardGeocode 地址 -> 坐标
func (s *Service) ForwardGeocode(ctx context.Context, address string) (models.Coordinate, error) {
	if s.geocoder == nil {
		return models.Coordinate{}, ErrUnavailable
	}
	return s.geocoder.Forward(ctx, address)
}

type positionResult struct {
	coord models.Coordinate
	err   error
}

func (s *Service) locate(ctx context.Context) (models.Coordinate, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch s.source.Authorization() {
	case AuthGranted:
	case AuthNotDetermined:
		// 先提示授权，授权后重试一次
		status, err := s.source.RequestAuthorization(tctx)
		if err != nil {
			return models.Coordinate{}, s.classify(ctx, tctx, err)
		}
		if status != AuthGranted {
			s.logger.Info("Location permission not granted after prompt", zap.String("status", string(status)))
			return models.Coordinate{}, ErrPermissionDenied
		}
	default:
		return models.Coordinate{}, ErrPermissionDenied
	}

	// 来源不一定遵守 ctx，这里自己等待超时
	ch := make(chan positionResult, 1)
	go func() {
		coord, err := s.source.CurrentPosition(tctx)
		ch <- positionResult{coord: coord, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return models.Coordinate{}, s.classify(ctx, tctx, r.err)
		}
		if !ValidCoordinate(r.coord) {
			return models.Coordinate{}, Failed(fmt.Errorf("invalid coordinate %.6f,%.6f", r.coord.Latitude, r.coord.Longitude))
		}
		return r.coord, nil
	case <-tctx.Done():
		return models.Coordinate{}, s.classify(ctx, tctx, tctx.Err())
	}
}

// classify 把来源错误映射到 Error
func (s *Service) classify(parent, tctx context.Context, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	if parent.Err() != nil {
		return Failed(parent.Err())
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("Location request timed out", zap.Duration("timeout", s.timeout))
		return ErrTimeout
	}
	return Failed(err)
}
