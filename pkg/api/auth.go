package api

// TokenResponse представляет выданный bearer токен
type TokenResponse struct {
	AccessToken string `json:"access_token"` // JWT access token
	ClientID    string `json:"client_id"`    // идентификатор клиента в токене
	ExpiresIn   int64  `json:"expires_in"`   // время жизни access token в секундах
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
