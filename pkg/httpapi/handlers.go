package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MrCodeEU/facegate/pkg/auth"
)

// FaceImageField is the multipart field carrying a verification image.
const FaceImageField = "face_image"

type handler struct {
	svc Service
	ttl time.Duration
}

type registerRequest struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	Password   string `json:"password"`
	EnrollFace bool   `json:"enroll_face"`
	Captcha    string `json:"captcha"`
}

type registerResponse struct {
	Contact      string `json:"contact"`
	Name         string `json:"name"`
	FaceEnrolled bool   `json:"face_enrolled"`
}

func (h *handler) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	res := h.svc.Register(c.UserContext(), auth.RegisterRequest{
		Name:       req.Name,
		Contact:    req.Contact,
		Password:   req.Password,
		EnrollFace: req.EnrollFace,
		Captcha:    req.Captcha,
		RemoteIP:   c.IP(),
	})
	if !res.Success {
		return res.Error
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{Contact: res.Contact, Name: res.Name, FaceEnrolled: res.FaceEnrolled})
}

type loginRequest struct {
	Contact  string `json:"contact"`
	Password string `json:"password"`
	Captcha  string `json:"captcha"`
}

type loginResponse struct {
	Contact   string  `json:"contact"`
	Name      string  `json:"name,omitempty"`
	Method    string  `json:"method"`
	Score     float32 `json:"score,omitempty"`
	Token     string  `json:"token"`
	ExpiresIn int64   `json:"expires_in"`
}

func (h *handler) respondLogin(c *fiber.Ctx, res auth.AuthResult) error {
	if !res.Success {
		return res.Error
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		Contact:   res.Contact,
		Name:      res.Name,
		Method:    res.Method,
		Score:     res.Score,
		Token:     res.Token,
		ExpiresIn: int64(h.ttl.Seconds()),
	})
}

func (h *handler) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	if req.Contact == "" || req.Password == "" {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	return h.respondLogin(c, h.svc.PasswordLogin(c.UserContext(), auth.LoginRequest{
		Contact:  req.Contact,
		Password: req.Password,
		Captcha:  req.Captcha,
		RemoteIP: c.IP(),
	}))
}

func (h *handler) faceVerify(c *fiber.Ctx) error {
	fh, err := c.FormFile(FaceImageField)
	if err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	f, err := fh.Open()
	if err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidImage, true)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidImage, true)
	}
	return h.respondLogin(c, h.svc.FaceLogin(c.UserContext(), data))
}

func (h *handler) faceEnroll(c *fiber.Ctx) error {
	s, err := h.svc.Session(c.UserContext(), bearer(c))
	if err != nil {
		return err
	}
	res := h.svc.Enroll(c.UserContext(), s.Contact)
	if !res.Success {
		return res.Error
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"contact": res.Contact, "face_enrolled": true})
}

type forgotRequest struct {
	Contact string `json:"contact"`
	Captcha string `json:"captcha"`
}

// forgotMessage is returned whether or not the contact exists.
const forgotMessage = "If the contact is registered, a reset link has been sent"

func (h *handler) forgotPassword(c *fiber.Ctx) error {
	var req forgotRequest
	if err := c.BodyParser(&req); err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	if err := h.svc.ForgotPassword(c.UserContext(), req.Contact, req.Captcha, c.IP()); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": forgotMessage})
}

func (h *handler) checkResetToken(c *fiber.Ctx) error {
	if _, err := h.svc.ValidateResetToken(c.UserContext(), c.Params("token")); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"valid": true})
}

type resetRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Captcha         string `json:"captcha"`
}

func (h *handler) resetPassword(c *fiber.Ctx) error {
	var req resetRequest
	if err := c.BodyParser(&req); err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	err := h.svc.ResetPassword(c.UserContext(), auth.ResetRequest{
		Token:    c.Params("token"),
		Password: req.Password,
		Confirm:  req.ConfirmPassword,
		Captcha:  req.Captcha,
		RemoteIP: c.IP(),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Password updated"})
}

// dataRequest carries base64 payloads; encoding/json handles []byte as base64.
type dataRequest struct {
	Data []byte `json:"data"`
}

type dataResponse struct {
	Data []byte `json:"data"`
}

func (h *handler) seal(c *fiber.Ctx) error {
	return h.transform(c, h.svc.SealData)
}

func (h *handler) open(c *fiber.Ctx) error {
	return h.transform(c, h.svc.OpenData)
}

func (h *handler) transform(c *fiber.Ctx, fn func(ctx context.Context, bearer string, data []byte) ([]byte, error)) error {
	var req dataRequest
	if err := c.BodyParser(&req); err != nil {
		return auth.NewAuthError(auth.ErrCodeInvalidInput, true)
	}
	out, err := fn(c.UserContext(), bearer(c), req.Data)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(dataResponse{Data: out})
}

func (h *handler) logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext(), bearer(c)); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}
