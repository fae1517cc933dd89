package shopify

const productFields = `
fragment ProductFields on Product {
  id
  handle
  title
  description
  productType
  vendor
  tags
  createdAt
  availableForSale
  options { name values }
  priceRange { minVariantPrice { amount currencyCode } }
  compareAtPriceRange { minVariantPrice { amount currencyCode } }
  featuredImage { url }
  variants(first: 20) {
    nodes {
      id
      title
      availableForSale
      price { amount currencyCode }
    }
  }
}`

const cartFields = `
fragment CartFields on Cart {
  id
  checkoutUrl
  totalQuantity
  cost {
    subtotalAmount { amount currencyCode }
    totalAmount { amount currencyCode }
  }
  lines(first: 100) {
    nodes {
      id
      quantity
      merchandise {
        ... on ProductVariant {
          id
          title
          price { amount currencyCode }
          image { url }
          product { handle title }
        }
      }
    }
  }
}`

const productsQuery = `
query Products($first: Int!, $after: String, $query: String) {
  products(first: $first, after: $after, query: $query) {
    pageInfo { hasNextPage endCursor }
    nodes { ...ProductFields }
  }
}` + productFields

const productByHandleQuery = `
query ProductByHandle($handle: String!) {
  product(handle: $handle) { ...ProductFields }
}` + productFields

const collectionsQuery = `
query Collections($first: Int!) {
  collections(first: $first) {
    nodes { id handle title description image { url } }
  }
}`

const collectionProductsQuery = `
query CollectionProducts($handle: String!, $first: Int!, $after: String) {
  collection(handle: $handle) {
    id
    handle
    title
    description
    image { url }
    products(first: $first, after: $after) {
      pageInfo { hasNextPage endCursor }
      nodes { ...ProductFields }
    }
  }
}` + productFields

const cartQuery = `
query Cart($id: ID!) {
  cart(id: $id) { ...CartFields }
}` + cartFields

const cartCreateMutation = `
mutation CartCreate($input: CartInput!) {
  cartCreate(input: $input) {
    cart { ...CartFields }
    userErrors { field message code }
  }
}` + cartFields

const cartLinesAddMutation = `
mutation CartLinesAdd($cartId: ID!, $lines: [CartLineInput!]!) {
  cartLinesAdd(cartId: $cartId, lines: $lines) {
    cart { ...CartFields }
    userErrors { field message code }
  }
}` + cartFields

const cartLinesUpdateMutation = `
mutation CartLinesUpdate($cartId: ID!, $lines: [CartLineUpdateInput!]!) {
  cartLinesUpdate(cartId: $cartId, lines: $lines) {
    cart { ...CartFields }
    userErrors { field message code }
  }
}` + cartFields

const cartLinesRemoveMutation = `
mutation CartLinesRemove($cartId: ID!, $lineIds: [ID!]!) {
  cartLinesRemove(cartId: $cartId, lineIds: $lineIds) {
    cart { ...CartFields }
    userErrors { field message code }
  }
}` + cartFields

const customerCreateMutation = `
mutation CustomerCreate($input: CustomerCreateInput!) {
  customerCreate(input: $input) {
    customer { id }
    customerUserErrors { field message code }
  }
}`

const customerAccessTokenCreateMutation = `
mutation CustomerAccessTokenCreate($input: CustomerAccessTokenCreateInput!) {
  customerAccessTokenCreate(input: $input) {
    customerAccessToken { accessToken expiresAt }
    customerUserErrors { field message code }
  }
}`

const customerAccessTokenDeleteMutation = `
mutation CustomerAccessTokenDelete($token: String!) {
  customerAccessTokenDelete(customerAccessToken: $token) {
    deletedAccessToken
    userErrors { field message }
  }
}`

const customerQuery = `
query Customer($token: String!) {
  customer(customerAccessToken: $token) {
    id
    firstName
    lastName
    email
    phone
    acceptsMarketing
    createdAt
  }
}`

const customerRecoverMutation = `
mutation CustomerRecover($email: String!) {
  customerRecover(email: $email) {
    customerUserErrors { field message code }
  }
}`
