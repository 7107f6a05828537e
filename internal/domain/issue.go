package domain

// IssueRequest 客户端发起的 Key 签发请求
type IssueRequest struct {
	Access          string `form:"access"`           // 请求的权限字母
	ClientID        string `form:"client_id"`        // 客户端标识
	AuthRedirect    string `form:"auth_redirect"`    // 签发完成后的回调地址
	ApplicationName string `form:"application_name"` // 应用展示名
	PublicKey       string `form:"public_key"`       // PEM 编码的客户端公钥
	Nonce           string `form:"nonce"`            // 原样回显，不做解释
	PushURL         string `form:"push_url"`         // 可选推送地址
}

// PushURLPtr 返回推送地址指针，未提供时为 nil
func (r IssueRequest) PushURLPtr() *string {
	if r.PushURL == "" {
		return nil
	}
	u := r.PushURL
	return &u
}
