package outlook

// Wire shapes for the subset of the Microsoft Graph mail API this
// adapter touches. Recipients are structured {name, address} objects,
// unlike the free-text headers Gmail and Yahoo produce.

type graphEmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphBody struct {
	ContentType string `json:"contentType,omitempty"`
	Content     string `json:"content,omitempty"`
}

type graphMessage struct {
	ID                string           `json:"id,omitempty"`
	ConversationID    string           `json:"conversationId,omitempty"`
	InternetMessageID string           `json:"internetMessageId,omitempty"`
	Subject           string           `json:"subject,omitempty"`
	BodyPreview       string           `json:"bodyPreview,omitempty"`
	From              *graphRecipient  `json:"from,omitempty"`
	ToRecipients      []graphRecipient `json:"toRecipients,omitempty"`
	CcRecipients      []graphRecipient `json:"ccRecipients,omitempty"`
	BccRecipients     []graphRecipient `json:"bccRecipients,omitempty"`
	ReceivedDateTime  string           `json:"receivedDateTime,omitempty"`
	SentDateTime      string           `json:"sentDateTime,omitempty"`
	IsRead            *bool            `json:"isRead,omitempty"`
	Body              *graphBody       `json:"body,omitempty"`
	HasAttachments    bool             `json:"hasAttachments,omitempty"`
}

type graphMessageList struct {
	Value []graphMessage `json:"value"`

	// NextLink present signals more results; the adapter computes its
	// own numeric skip offset rather than following the link.
	NextLink string `json:"@odata.nextLink,omitempty"`
}

type graphAttachment struct {
	ODataType    string `json:"@odata.type,omitempty"`
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

type graphAttachmentList struct {
	Value []graphAttachment `json:"value"`
}

type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
